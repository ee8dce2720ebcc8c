package term

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bashx-org/bxssh/internal/ports"
)

// ErrTerminalUnavailable is returned when raw mode is requested but stdio
// is not attached to a real terminal (piped input, redirected output).
var ErrTerminalUnavailable = errors.New("standard input/output is not a terminal")

// RawModeGuard owns the saved pre-session terminal attributes. Once raw
// mode is entered the original attributes are restored exactly once, no
// matter how many times Restore runs or on which exit path.
type RawModeGuard struct {
	tio ports.TerminalIO

	mu      sync.Mutex
	entered bool
	restore func() error

	restoreOnce sync.Once
	restoreErr  error
}

// NewRawModeGuard creates a guard over the given terminal.
func NewRawModeGuard(tio ports.TerminalIO) *RawModeGuard {
	return &RawModeGuard{tio: tio}
}

// Enter captures the current terminal attributes and switches to raw mode.
func (g *RawModeGuard) Enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.entered {
		return nil
	}
	if !g.tio.IsTerminal() {
		return ErrTerminalUnavailable
	}

	restore, err := g.tio.MakeRaw()
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}

	g.restore = restore
	g.entered = true
	return nil
}

// Entered reports whether raw mode is currently held by this guard.
func (g *RawModeGuard) Entered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entered
}

// Restore puts the terminal back into its pre-session state. Idempotent:
// the underlying restore runs exactly once, later calls return the first
// call's result. Restoring a guard that never entered raw mode is a no-op.
func (g *RawModeGuard) Restore() error {
	g.mu.Lock()
	if !g.entered {
		g.mu.Unlock()
		return nil
	}
	restore := g.restore
	g.mu.Unlock()

	g.restoreOnce.Do(func() {
		g.restoreErr = restore()
		g.mu.Lock()
		g.entered = false
		g.mu.Unlock()
	})
	return g.restoreErr
}
