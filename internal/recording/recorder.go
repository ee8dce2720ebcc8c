// Package recording captures interactive sessions in asciicast v2 format.
// See: https://docs.asciinema.org/manual/asciicast/v2/
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bashx-org/bxssh/internal/ports"
)

// Recorder writes an asciicast v2 file. It implements io.Writer so the
// stream pump can tap displayed output straight into it; only bytes that
// survived filtering are recorded.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	startTime time.Time
	closed    bool
	clock     ports.Clock
}

// Header is the asciicast v2 header line.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event, serialized as [time, type, data].
type Event struct {
	Time float64
	Type string
	Data string
}

// MarshalJSON emits the three-element array form.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// New creates a recorder writing to dir. The file name embeds the target
// and a timestamp, e.g. "user@host_20260826_153000.cast".
func New(dir, target string, width, height int, termType string, clock ports.Clock) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.cast", target, clock.Now().Format("20060102_150405"))
	fullPath := filepath.Join(dir, filename)

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	r := &Recorder{
		file:      file,
		startTime: clock.Now(),
		clock:     clock,
	}

	header := Header{
		Version:   2,
		Width:     width,
		Height:    height,
		Timestamp: r.startTime.Unix(),
		Title:     target,
		Env: map[string]string{
			"TERM": termType,
		},
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := file.Write(append(headerJSON, '\n')); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return r, nil
}

// Write records p as an output event. It never short-writes; a recording
// error is returned but the caller may keep the session alive regardless.
func (r *Recorder) Write(p []byte) (int, error) {
	if err := r.record("o", string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// RecordResize records a terminal resize event.
func (r *Recorder) RecordResize(cols, rows int) error {
	return r.record("r", fmt.Sprintf("%dx%d", cols, rows))
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event := Event{
		Time: r.clock.Now().Sub(r.startTime).Seconds(),
		Type: eventType,
		Data: data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close flushes and closes the recording file. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Path returns the recording file path.
func (r *Recorder) Path() string {
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}
