package term

import (
	"errors"
	"io"
	"sync"
	"testing"
)

// fakeTerminal implements ports.TerminalIO for guard tests.
type fakeTerminal struct {
	mu           sync.Mutex
	isTerminal   bool
	makeRawCalls int
	restoreCalls int
	makeRawErr   error
	restoreErr   error
}

func (f *fakeTerminal) In() io.Reader  { return nil }
func (f *fakeTerminal) Out() io.Writer { return io.Discard }

func (f *fakeTerminal) IsTerminal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isTerminal
}

func (f *fakeTerminal) MakeRaw() (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeRawCalls++
	if f.makeRawErr != nil {
		return nil, f.makeRawErr
	}
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.restoreCalls++
		return f.restoreErr
	}, nil
}

func (f *fakeTerminal) Size() (int, int, error)       { return 80, 24, nil }
func (f *fakeTerminal) ResizeEvents() <-chan struct{} { return nil }

func (f *fakeTerminal) counts() (makeRaw, restore int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.makeRawCalls, f.restoreCalls
}

func TestEnterNotATerminal(t *testing.T) {
	guard := NewRawModeGuard(&fakeTerminal{isTerminal: false})

	err := guard.Enter()
	if !errors.Is(err, ErrTerminalUnavailable) {
		t.Errorf("Enter() error = %v, want ErrTerminalUnavailable", err)
	}
	if guard.Entered() {
		t.Error("Entered() = true after failed Enter")
	}
}

func TestEnterMakeRawError(t *testing.T) {
	wantErr := errors.New("termios unavailable")
	guard := NewRawModeGuard(&fakeTerminal{isTerminal: true, makeRawErr: wantErr})

	if err := guard.Enter(); !errors.Is(err, wantErr) {
		t.Errorf("Enter() error = %v, want %v", err, wantErr)
	}
}

func TestRestoreIdempotent(t *testing.T) {
	ft := &fakeTerminal{isTerminal: true}
	guard := NewRawModeGuard(ft)

	if err := guard.Enter(); err != nil {
		t.Fatalf("Enter() error: %v", err)
	}
	if !guard.Entered() {
		t.Fatal("Entered() = false after Enter")
	}

	if err := guard.Restore(); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if err := guard.Restore(); err != nil {
		t.Fatalf("second Restore() error: %v", err)
	}

	if _, restores := ft.counts(); restores != 1 {
		t.Errorf("restore ran %d times, want 1", restores)
	}
	if guard.Entered() {
		t.Error("Entered() = true after Restore")
	}
}

func TestRestoreReturnsFirstError(t *testing.T) {
	wantErr := errors.New("restore failed")
	ft := &fakeTerminal{isTerminal: true, restoreErr: wantErr}
	guard := NewRawModeGuard(ft)

	if err := guard.Enter(); err != nil {
		t.Fatalf("Enter() error: %v", err)
	}

	if err := guard.Restore(); !errors.Is(err, wantErr) {
		t.Errorf("Restore() error = %v, want %v", err, wantErr)
	}
	// The error is sticky; the underlying restore still only ran once.
	if err := guard.Restore(); !errors.Is(err, wantErr) {
		t.Errorf("second Restore() error = %v, want %v", err, wantErr)
	}
	if _, restores := ft.counts(); restores != 1 {
		t.Errorf("restore ran %d times, want 1", restores)
	}
}

func TestRestoreWithoutEnter(t *testing.T) {
	ft := &fakeTerminal{isTerminal: true}
	guard := NewRawModeGuard(ft)

	if err := guard.Restore(); err != nil {
		t.Errorf("Restore() without Enter error: %v", err)
	}
	if _, restores := ft.counts(); restores != 0 {
		t.Errorf("restore ran %d times, want 0", restores)
	}
}

func TestEnterTwice(t *testing.T) {
	ft := &fakeTerminal{isTerminal: true}
	guard := NewRawModeGuard(ft)

	if err := guard.Enter(); err != nil {
		t.Fatalf("Enter() error: %v", err)
	}
	if err := guard.Enter(); err != nil {
		t.Fatalf("second Enter() error: %v", err)
	}
	if raws, _ := ft.counts(); raws != 1 {
		t.Errorf("MakeRaw ran %d times, want 1", raws)
	}
}
