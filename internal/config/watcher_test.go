package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bashx-org/bxssh/internal/logging"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	w, err := NewWatcher(path, logging.Discard(), func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if got := w.Config().Logging.Level; got != "info" {
		t.Fatalf("initial level = %q", got)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	if got := w.Config().Logging.Level; got != "debug" {
		t.Errorf("Config() level = %q after reload", got)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0600); err != nil {
		t.Fatal(err)
	}

	changed := make(chan struct{}, 1)
	w, err := NewWatcher(path, logging.Discard(), func(*Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
		t.Fatal("reload fired for unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}
