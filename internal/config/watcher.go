package config

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file for changes and reloads it. bxssh uses it
// to retune log verbosity during a long-lived interactive session without
// restarting.
type Watcher struct {
	path     string
	config   *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   *slog.Logger
	done     chan struct{}
	once     sync.Once
}

// NewWatcher creates a config watcher. onChange runs with the freshly
// loaded config after every successful reload.
func NewWatcher(path string, logger *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		config:   cfg,
		watcher:  fsWatcher,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}

	// Watch the directory, not the file: editors replace files on save.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	go w.watch()
	return w, nil
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w *Watcher) watch() {
	filename := filepath.Base(w.path)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err.Error())
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "error", err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("config reload rejected", "error", err.Error())
		return
	}

	w.mu.Lock()
	w.config = cfg
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.done) })
	return w.watcher.Close()
}
