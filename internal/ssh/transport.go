// Package ssh implements the transport/authentication provider over
// golang.org/x/crypto/ssh.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/bashx-org/bxssh/internal/adapters/realclock"
	"github.com/bashx-org/bxssh/internal/ports"
)

var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrNotAuthenticated is returned when a channel is requested before
	// authentication succeeded.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Options configures a Transport.
type Options struct {
	Host              string
	Port              int
	User              string
	HostKeyCallback   ssh.HostKeyCallback
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	Clock             ports.Clock
	Logger            *slog.Logger
}

// Transport holds one SSH connection through its authentication attempts
// and channel use. Authentication is staged: Connect establishes TCP
// reachability, each Authenticate* call performs a full handshake with a
// single method so a failed key attempt can be followed by a password
// attempt on a fresh handshake.
type Transport struct {
	host              string
	port              int
	user              string
	hostKeyCallback   ssh.HostKeyCallback
	timeout           time.Duration
	keepaliveInterval time.Duration
	clock             ports.Clock
	logger            *slog.Logger

	mu            sync.Mutex
	conn          net.Conn // pre-handshake TCP connection
	client        *ssh.Client
	keepaliveStop chan struct{}
	tried         []string
}

// New creates a transport for user@host:port.
func New(opts Options) (*Transport, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.HostKeyCallback == nil {
		cb, err := BuildHostKeyCallback("")
		if err != nil {
			return nil, err
		}
		opts.HostKeyCallback = cb
	}
	clk := opts.Clock
	if clk == nil {
		clk = realclock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Transport{
		host:              opts.Host,
		port:              opts.Port,
		user:              opts.User,
		hostKeyCallback:   opts.HostKeyCallback,
		timeout:           opts.Timeout,
		keepaliveInterval: opts.KeepaliveInterval,
		clock:             clk,
		logger:            logger,
	}, nil
}

func (t *Transport) addr() string {
	return net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))
}

// Connect dials the TCP connection the first handshake will run over.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil || t.client != nil {
		return nil
	}
	return t.dialLocked(ctx)
}

func (t *Transport) dialLocked(ctx context.Context) error {
	d := net.Dialer{Timeout: t.timeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr(), err)
	}
	t.conn = conn
	return nil
}

// AuthenticateKey performs a handshake offering only the given private key.
func (t *Transport) AuthenticateKey(identityPath string, passphrase []byte) error {
	method, err := PrivateKeyAuth(identityPath, passphrase)
	if err != nil {
		t.mu.Lock()
		t.tried = append(t.tried, "publickey")
		t.mu.Unlock()
		return err
	}
	return t.handshake(method, "publickey")
}

// AuthenticatePassword performs a handshake offering password and
// keyboard-interactive authentication with the given secret.
func (t *Transport) AuthenticatePassword(password string) error {
	return t.handshake([]ssh.AuthMethod{
		ssh.Password(password),
		KeyboardInteractiveAuth(password),
	}, "password")
}

// handshake runs the SSH handshake with the given methods over the held
// TCP connection, redialing if a previous attempt consumed it.
func (t *Transport) handshake(methods []ssh.AuthMethod, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil // already authenticated
	}
	t.tried = append(t.tried, name)

	if t.conn == nil {
		if err := t.dialLocked(context.Background()); err != nil {
			return err
		}
	}

	config := &ssh.ClientConfig{
		User:            t.user,
		Auth:            methods,
		HostKeyCallback: t.hostKeyCallback,
		Timeout:         t.timeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(t.conn, t.addr(), config)
	if err != nil {
		// The handshake consumed the connection either way.
		t.conn.Close()
		t.conn = nil
		return fmt.Errorf("%s authentication: %w", name, err)
	}

	t.conn = nil
	t.client = ssh.NewClient(sshConn, chans, reqs)
	t.keepaliveStop = make(chan struct{})
	go t.keepalive(t.keepaliveStop)

	t.logger.Debug("authenticated", "method", name, "addr", t.addr())
	return nil
}

// keepalive sends periodic requests so NAT/firewall state stays warm.
// The stop channel is passed in to avoid racing on the struct field.
func (t *Transport) keepalive(stop <-chan struct{}) {
	ticker := t.clock.NewTicker(t.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			t.mu.Lock()
			client := t.client
			t.mu.Unlock()
			if client == nil {
				return
			}
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				// The next channel operation will surface the failure.
				t.logger.Debug("keepalive failed", "error", err.Error())
			}
		}
	}
}

// Authenticated reports whether a handshake has succeeded.
func (t *Transport) Authenticated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil
}

// MethodsTried returns the authentication methods attempted, in order.
func (t *Transport) MethodsTried() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.tried))
	copy(out, t.tried)
	return out
}

// Client exposes the underlying connection for subsystems (file transfer)
// that need more than the ports.Transport surface. Nil before
// authentication.
func (t *Transport) Client() *ssh.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

// OpenShell allocates a remote PTY and starts the login shell.
func (t *Transport) OpenShell(opts ports.ShellOptions) (ports.Channel, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return nil, ErrNotAuthenticated
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}

	if opts.Term == "" {
		opts.Term = "xterm-256color"
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.IUTF8:         1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &shellChannel{session: session, stdin: stdin, stdout: stdout}, nil
}

// Exec runs one remote command and returns its exit status.
func (t *Transport) Exec(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return 0, ErrNotAuthenticated
	}

	session, err := client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Signal(ssh.SIGINT)
			session.Close()
		case <-done:
		}
	}()

	if err := session.Run(command); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return 0, fmt.Errorf("exec: %w", err)
	}
	return 0, nil
}

// Close tears down the connection. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.keepaliveStop != nil {
		close(t.keepaliveStop)
		t.keepaliveStop = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}

// shellChannel adapts an ssh.Session with an allocated PTY to
// ports.Channel.
type shellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
	closeErr  error
}

func (c *shellChannel) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *shellChannel) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

// Resize propagates a window size change to the remote PTY.
func (c *shellChannel) Resize(cols, rows int) error {
	return c.session.WindowChange(rows, cols)
}

// Wait blocks until the shell exits and returns its exit status. A missing
// status (connection torn down before the remote reported one) is an error.
func (c *shellChannel) Wait() (int, error) {
	err := c.session.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return 0, err
}

func (c *shellChannel) Close() error {
	c.closeOnce.Do(func() {
		c.stdin.Close()
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}
