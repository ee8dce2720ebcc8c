// Package realterm adapts the process's controlling terminal to
// ports.TerminalIO.
package realterm

import (
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"
)

// Terminal wraps stdin/stdout with termios raw-mode switching and
// SIGWINCH-driven resize notification.
type Terminal struct {
	in  *os.File
	out *os.File

	mu     sync.Mutex
	resize chan struct{}
	sigs   chan os.Signal
}

// New returns a terminal over the process's stdin and stdout.
func New() *Terminal {
	return &Terminal{in: os.Stdin, out: os.Stdout}
}

// In returns the keystroke source.
func (t *Terminal) In() io.Reader {
	return t.in
}

// Out returns the display sink.
func (t *Terminal) Out() io.Writer {
	return t.out
}

// IsTerminal reports whether both ends are attached to a real terminal.
func (t *Terminal) IsTerminal() bool {
	return term.IsTerminal(int(t.in.Fd())) && term.IsTerminal(int(t.out.Fd()))
}

// MakeRaw switches stdin to raw mode and returns the restore function.
func (t *Terminal) MakeRaw() (func() error, error) {
	fd := int(t.in.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() error {
		return term.Restore(fd, state)
	}, nil
}

// Size returns the current terminal dimensions.
func (t *Terminal) Size() (cols, rows int, err error) {
	return term.GetSize(int(t.out.Fd()))
}

// ResizeEvents returns a channel signaled on SIGWINCH. The signal watcher
// starts on first call and runs for the process lifetime.
func (t *Terminal) ResizeEvents() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resize == nil {
		t.resize = make(chan struct{}, 1)
		t.sigs = make(chan os.Signal, 1)
		signal.Notify(t.sigs, syscall.SIGWINCH)
		go func() {
			for range t.sigs {
				select {
				case t.resize <- struct{}{}:
				default:
				}
			}
		}()
	}
	return t.resize
}
