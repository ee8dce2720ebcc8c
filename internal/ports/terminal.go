package ports

import "io"

// TerminalIO abstracts the local terminal so session logic can be exercised
// against fakes. The real adapter wraps stdin/stdout and termios state.
type TerminalIO interface {
	// In returns the keystroke source (stdin in the real adapter).
	In() io.Reader

	// Out returns the display sink (stdout in the real adapter).
	Out() io.Writer

	// IsTerminal reports whether both In and Out are attached to a real
	// terminal. Raw mode is refused otherwise.
	IsTerminal() bool

	// MakeRaw switches the terminal to raw mode (no line buffering, no local
	// echo, signal characters delivered as data) and returns a function that
	// restores the captured pre-raw attributes.
	MakeRaw() (restore func() error, err error)

	// Size returns the current terminal dimensions.
	Size() (cols, rows int, err error)

	// ResizeEvents returns a channel that receives a value whenever the
	// terminal is resized. May return nil if resize notification is not
	// supported.
	ResizeEvents() <-chan struct{}
}

// Prompter abstracts interactive user prompts shown outside raw mode,
// such as the password-fallback confirmation during authentication.
type Prompter interface {
	// Confirm shows an inline yes/no prompt and returns the answer.
	// An aborted prompt (Ctrl-C) returns false with no error.
	Confirm(title string) (bool, error)

	// Password shows a masked input prompt and returns the entered secret.
	Password(title string) (string, error)
}
