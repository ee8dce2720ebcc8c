// Package mockssh runs an in-process SSH server for tests: password and
// public-key authentication, exec with exit status, and interactive shells
// either scripted (deterministic bytes, no subprocess) or backed by a real
// PTY.
package mockssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Server is an in-process SSH server listening on a random loopback port.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string

	shell      string
	script     []byte // when set, shells write this and exit instead of spawning
	users      map[string]string
	authorized map[string]bool // authorized public keys, keyed by marshaled wire form

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures the server.
type Option func(*Server)

// WithShell sets the shell binary used for exec and PTY sessions.
func WithShell(shell string) Option {
	return func(s *Server) { s.shell = shell }
}

// WithUser registers a username/password pair.
func WithUser(username, password string) Option {
	return func(s *Server) { s.users[username] = password }
}

// WithAuthorizedKey accepts public-key auth for the given key.
func WithAuthorizedKey(pub ssh.PublicKey) Option {
	return func(s *Server) { s.authorized[string(pub.Marshal())] = true }
}

// WithScriptedShell makes shell sessions write the given bytes, then close
// with exit status 0. No subprocess is spawned, so tests control the exact
// byte stream the client sees.
func WithScriptedShell(output []byte) Option {
	return func(s *Server) { s.script = output }
}

// New starts a server. Close it when the test is done.
func New(opts ...Option) (*Server, error) {
	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		return nil, fmt.Errorf("create host signer: %w", err)
	}

	s := &Server{
		shell:      "/bin/sh",
		users:      map[string]string{},
		authorized: map[string]bool{},
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if expected, ok := s.users[c.User()]; ok && string(password) == expected {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if s.authorized[string(key.Marshal())] {
				return nil, nil
			}
			return nil, fmt.Errorf("key rejected for %q", c.User())
		},
	}
	config.AddHostKey(signer)
	s.config = config

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns host:port.
func (s *Server) Addr() string { return s.addr }

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	var port int
	_, p, _ := net.SplitHostPort(s.addr)
	fmt.Sscanf(p, "%d", &port)
	return port
}

// Close stops the server and waits for in-flight connections.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go s.handleSession(channel, requests)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	var ptyReq *ptyRequest

	for req := range requests {
		switch req.Type {
		case "pty-req":
			ptyReq = parsePtyRequest(req.Payload)
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			if s.script != nil {
				s.runScripted(channel)
			} else {
				s.runShell(channel, ptyReq)
			}
			return

		case "exec":
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.runExec(channel, parseExecRequest(req.Payload))
			return

		case "subsystem":
			if parseExecRequest(req.Payload) != "sftp" {
				if req.WantReply {
					req.Reply(false, nil)
				}
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.runSftp(channel)
			return

		case "window-change":
			// Accepted but not applied: shell sessions run to completion
			// inside the shell case above.
			if req.WantReply {
				req.Reply(true, nil)
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runSftp serves the SFTP subsystem over the channel, rooted at the
// server process's filesystem.
func (s *Server) runSftp(channel ssh.Channel) {
	server, err := sftp.NewServer(channel)
	if err != nil {
		sendExitStatus(channel, 1)
		return
	}
	server.Serve()
	server.Close()
	sendExitStatus(channel, 0)
}

// runScripted plays back the configured byte stream and exits cleanly.
func (s *Server) runScripted(channel ssh.Channel) {
	channel.Write(s.script)
	// Drain anything the client typed so its writes do not block.
	go io.Copy(io.Discard, channel)
	sendExitStatus(channel, 0)
}

func (s *Server) runShell(channel ssh.Channel, ptyReq *ptyRequest) {
	cmd := exec.Command(s.shell)
	cmd.Env = append(os.Environ(), "PS1=$ ")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		sendExitStatus(channel, 1)
		return
	}
	if ptyReq != nil {
		setWinsize(ptmx, ptyReq.cols, ptyReq.rows)
	}

	done := make(chan struct{})
	go func() {
		io.Copy(channel, ptmx)
		close(done)
	}()
	go io.Copy(ptmx, channel)

	code := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	ptmx.Close()
	<-done
	sendExitStatus(channel, code)
}

func (s *Server) runExec(channel ssh.Channel, command string) {
	cmd := exec.Command(s.shell, "-c", command)
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()
	cmd.Stdin = channel

	code := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	sendExitStatus(channel, code)
}

func sendExitStatus(channel ssh.Channel, code int) {
	channel.CloseWrite()
	payload := []byte{byte(code >> 24), byte(code >> 16), byte(code >> 8), byte(code)}
	channel.SendRequest("exit-status", false, payload)
	channel.Close()
}

type ptyRequest struct {
	term string
	cols uint32
	rows uint32
}

func parsePtyRequest(payload []byte) *ptyRequest {
	if len(payload) < 4 {
		return &ptyRequest{term: "xterm", cols: 80, rows: 24}
	}
	termLen := int(uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3]))
	if len(payload) < 4+termLen+8 {
		return &ptyRequest{term: "xterm", cols: 80, rows: 24}
	}
	return &ptyRequest{
		term: string(payload[4 : 4+termLen]),
		cols: be32(payload[4+termLen:]),
		rows: be32(payload[8+termLen:]),
	}
}

func parseExecRequest(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := int(be32(payload))
	if len(payload) < 4+n {
		return ""
	}
	return string(payload[4 : 4+n])
}

func be32(p []byte) uint32 {
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
}

func setWinsize(f *os.File, cols, rows uint32) {
	ws := struct {
		row, col, xpixel, ypixel uint16
	}{row: uint16(rows), col: uint16(cols)}
	syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), uintptr(syscall.TIOCSWINSZ), uintptr(unsafe.Pointer(&ws)))
}
