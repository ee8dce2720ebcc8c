package ports

import (
	"context"
	"io"
)

// ShellOptions configures remote PTY allocation for an interactive shell.
type ShellOptions struct {
	Term string // terminal type advertised to the remote side (e.g. "xterm-256color")
	Cols int
	Rows int
}

// Channel is one remote shell channel. Reads return remote output, writes
// feed remote input. Reads and writes are independent operations and may be
// used concurrently from separate goroutines (half-duplex streaming).
type Channel interface {
	io.ReadWriteCloser

	// Resize propagates a local terminal size change to the remote PTY.
	Resize(cols, rows int) error

	// Wait blocks until the remote side closes the channel and returns the
	// remote command's exit status if one was reported.
	Wait() (int, error)
}

// Transport is the SSH transport/authentication provider consumed by the
// session controller. Implementations own all wire-protocol details; the
// session layer never sees key exchange or cipher negotiation.
type Transport interface {
	// Connect establishes the underlying network connection.
	Connect(ctx context.Context) error

	// AuthenticateKey attempts public-key authentication with the private
	// key at identityPath. An empty passphrase means the key is unencrypted.
	AuthenticateKey(identityPath string, passphrase []byte) error

	// AuthenticatePassword attempts password authentication.
	AuthenticatePassword(password string) error

	// Authenticated reports whether an authenticated connection is live.
	Authenticated() bool

	// MethodsTried returns the names of authentication methods attempted so
	// far, in order. Used for diagnostics when all methods are exhausted.
	MethodsTried() []string

	// OpenShell allocates a remote PTY and starts an interactive shell.
	OpenShell(opts ShellOptions) (Channel, error)

	// Exec runs a single remote command, streaming its output to stdout and
	// stderr, and returns the remote exit status.
	Exec(ctx context.Context, command string, stdout, stderr io.Writer) (int, error)

	// Close tears down the connection. Safe to call more than once.
	Close() error
}
