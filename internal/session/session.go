// Package session owns the lifecycle of a single remote shell or command
// execution: authentication with password fallback, raw-mode management,
// and the bidirectional stream pump.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/bashx-org/bxssh/internal/ports"
	"github.com/bashx-org/bxssh/internal/term"
)

// State is a session lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticatingKey
	StateAuthenticatingPassword
	StateInteractive
	StateCommand
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticatingKey:
		return "authenticating(key)"
	case StateAuthenticatingPassword:
		return "authenticating(password)"
	case StateInteractive:
		return "interactive"
	case StateCommand:
		return "command"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// CredentialStore remembers passwords between sessions. Implemented by the
// OS keyring adapter; a nil store disables recall.
type CredentialStore interface {
	// LookupPassword returns a stored password for user@host, if any.
	LookupPassword(user, host string) (string, bool)

	// StorePassword remembers a password that just authenticated.
	StorePassword(user, host, password string) error
}

// Request describes one session to run.
type Request struct {
	User          string
	Host          string
	Port          int
	IdentityPath  string // private key path; empty disables key auth
	Passphrase    []byte // key passphrase, empty for unencrypted keys
	Command       string // non-empty runs a single command instead of a shell
	ForcePassword bool   // skip key auth entirely
	Term          string // terminal type advertised to the remote PTY
}

// Options configures a Controller.
type Options struct {
	Clock       ports.Clock
	Logger      *slog.Logger
	Credentials CredentialStore // optional password recall
	Remember    bool            // store passwords that authenticate
	ErrOut      io.Writer       // stderr for single-command execution
	BufferSize  int             // pump buffer size, DefaultBufferSize if zero
	Tap         io.Writer       // receives displayed interactive output
}

// Controller orchestrates one session end to end: connect, authenticate
// (key first, inline password fallback on refusal-free confirmation), then
// either an interactive raw-mode shell behind the escape classifier or a
// plain single-command execution.
type Controller struct {
	transport ports.Transport
	terminal  ports.TerminalIO
	prompter  ports.Prompter
	opts      Options
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	history []State
}

// NewController wires a controller from its collaborators.
func NewController(transport ports.Transport, terminal ports.TerminalIO, prompter ports.Prompter, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ErrOut == nil {
		opts.ErrOut = os.Stderr
	}
	return &Controller{
		transport: transport,
		terminal:  terminal,
		prompter:  prompter,
		opts:      opts,
		logger:    logger,
		state:     StateIdle,
	}
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.history = append(c.history, s)
	c.mu.Unlock()
	c.logger.Debug("session state", "state", s.String())
}

// visited reports whether the session passed through s. Used by tests.
func (c *Controller) visited(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.history {
		if h == s {
			return true
		}
	}
	return false
}

// Connect establishes and authenticates the transport without starting a
// shell. Run calls it; file-transfer mode uses it directly.
func (c *Controller) Connect(ctx context.Context, req Request) error {
	c.setState(StateConnecting)
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s:%d: %w", req.Host, req.Port, err)
	}
	return c.authenticate(req)
}

// Run executes the session and returns the process exit code: the remote
// command's exit status when one was reported, 1 otherwise.
func (c *Controller) Run(ctx context.Context, req Request) (int, error) {
	defer c.setState(StateClosed)
	defer c.transport.Close()

	if err := c.Connect(ctx, req); err != nil {
		return 1, err
	}

	if req.Command != "" {
		return c.runCommand(ctx, req)
	}
	return c.runInteractive(ctx, req)
}

// authenticate tries key auth, then offers a one-time inline fallback to
// password auth. The Authenticating phase can move from key to password
// exactly once; there is no other backward transition.
func (c *Controller) authenticate(req Request) error {
	if req.ForcePassword || req.IdentityPath == "" {
		return c.passwordAuth(req)
	}

	c.setState(StateAuthenticatingKey)
	err := c.transport.AuthenticateKey(req.IdentityPath, req.Passphrase)
	if err == nil {
		c.logger.Info("key authentication succeeded", "identity", req.IdentityPath)
		return nil
	}
	c.logger.Warn("key authentication failed",
		"identity", req.IdentityPath, "error", err.Error())

	// The prompt runs in cooked mode; raw mode has not been entered yet.
	yes, perr := c.prompter.Confirm("Key authentication failed. Try password authentication?")
	if perr != nil {
		return c.exhausted(perr)
	}
	if !yes {
		return c.exhausted(err)
	}
	return c.passwordAuth(req)
}

// passwordAuth authenticates with a remembered or prompted password.
func (c *Controller) passwordAuth(req Request) error {
	c.setState(StateAuthenticatingPassword)

	if c.opts.Credentials != nil {
		if pw, ok := c.opts.Credentials.LookupPassword(req.User, req.Host); ok {
			if err := c.transport.AuthenticatePassword(pw); err == nil {
				c.logger.Info("authenticated with stored password")
				return nil
			}
			c.logger.Warn("stored password rejected", "user", req.User, "host", req.Host)
		}
	}

	pw, err := c.prompter.Password(fmt.Sprintf("%s@%s's password", req.User, req.Host))
	if err != nil {
		return c.exhausted(err)
	}

	if err := c.transport.AuthenticatePassword(pw); err != nil {
		return c.exhausted(err)
	}

	if c.opts.Remember && c.opts.Credentials != nil {
		if err := c.opts.Credentials.StorePassword(req.User, req.Host, pw); err != nil {
			c.logger.Warn("could not store password", "error", err.Error())
		}
	}
	return nil
}

// exhausted wraps the last authentication error with the list of methods
// that were tried, for the final single-line diagnostic.
func (c *Controller) exhausted(last error) error {
	tried := c.transport.MethodsTried()
	if len(tried) == 0 {
		tried = []string{"none"}
	}
	return fmt.Errorf("%w (tried: %s): %v",
		ErrAuthenticationExhausted, strings.Join(tried, ", "), last)
}

// runCommand executes a single remote command without raw mode and without
// output filtering.
func (c *Controller) runCommand(ctx context.Context, req Request) (int, error) {
	c.setState(StateCommand)
	c.logger.Info("executing remote command", "command", req.Command)

	status, err := c.transport.Exec(ctx, req.Command, c.terminal.Out(), c.opts.ErrOut)
	c.setState(StateClosing)
	if err != nil {
		return 1, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return status, nil
}

// runInteractive runs the raw-mode shell session.
func (c *Controller) runInteractive(ctx context.Context, req Request) (int, error) {
	guard := term.NewRawModeGuard(c.terminal)
	if err := guard.Enter(); err != nil {
		return 1, err
	}
	defer guard.Restore()

	cols, rows, err := c.terminal.Size()
	if err != nil {
		c.logger.Debug("terminal size unavailable, using 80x24", "error", err)
		cols, rows = 80, 24
	}

	channel, err := c.transport.OpenShell(ports.ShellOptions{
		Term: req.Term,
		Cols: cols,
		Rows: rows,
	})
	if err != nil {
		return 1, fmt.Errorf("open shell: %w", err)
	}
	defer channel.Close()

	c.setState(StateInteractive)

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.watchResize(pumpCtx, channel)

	pump := NewPump(c.terminal.In(), c.terminal.Out(), channel,
		term.NewClassifier(c.logger), c.logger, PumpOptions{
			BufferSize: c.opts.BufferSize,
			Tap:        c.opts.Tap,
			Clock:      c.opts.Clock,
		})
	pumpErr := pump.Run(pumpCtx)

	c.setState(StateClosing)
	status, waitErr := channel.Wait()

	// Restore before anyone prints a diagnostic to the cooked terminal.
	if rerr := guard.Restore(); rerr != nil {
		c.logger.Warn("terminal restore failed", "error", rerr.Error())
	}

	if pumpErr != nil {
		return 1, pumpErr
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			// Interrupted by the user; the missing status is expected.
			return 1, nil
		}
		return 1, fmt.Errorf("%w: %v", ErrConnectionLost, waitErr)
	}
	return status, nil
}

// resizeRecorder is the optional tap extension for window size changes;
// the asciicast recorder implements it.
type resizeRecorder interface {
	RecordResize(cols, rows int) error
}

// watchResize forwards local terminal size changes to the remote PTY and
// mirrors them into the tap when it records resizes.
func (c *Controller) watchResize(ctx context.Context, channel ports.Channel) {
	events := c.terminal.ResizeEvents()
	if events == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			cols, rows, err := c.terminal.Size()
			if err != nil {
				continue
			}
			if err := channel.Resize(cols, rows); err != nil {
				c.logger.Debug("window change failed", "error", err.Error())
				return
			}
			if rec, ok := c.opts.Tap.(resizeRecorder); ok {
				if err := rec.RecordResize(cols, rows); err != nil {
					c.logger.Debug("recording resize failed", "error", err.Error())
				}
			}
			c.logger.Debug("propagated resize", "cols", cols, "rows", rows)
		}
	}
}
