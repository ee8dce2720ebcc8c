package mockssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func dial(t *testing.T, srv *Server, auth []ssh.AuthMethod) *ssh.Client {
	t.Helper()
	client, err := ssh.Dial("tcp", srv.Addr(), &ssh.ClientConfig{
		User:            "test",
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return client
}

func TestPasswordAuth(t *testing.T) {
	srv, err := New(WithUser("test", "hunter2"))
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Close()

	client := dial(t, srv, []ssh.AuthMethod{ssh.Password("hunter2")})
	client.Close()
}

func TestPasswordAuthRejected(t *testing.T) {
	srv, err := New(WithUser("test", "hunter2"))
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Close()

	_, err = ssh.Dial("tcp", srv.Addr(), &ssh.ClientConfig{
		User:            "test",
		Auth:            []ssh.AuthMethod{ssh.Password("wrong")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestPublicKeyAuth(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}

	srv, err := New(WithAuthorizedKey(sshPub))
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Close()

	client := dial(t, srv, []ssh.AuthMethod{ssh.PublicKeys(signer)})
	client.Close()
}

func TestExecReportsOutputAndStatus(t *testing.T) {
	srv, err := New(WithUser("test", "pw"))
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Close()

	client := dial(t, srv, []ssh.AuthMethod{ssh.Password("pw")})
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	if err := session.Run("echo hello"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := out.String(); got != "hello\n" {
		t.Errorf("output = %q, want %q", got, "hello\n")
	}
}

func TestExecNonzeroStatus(t *testing.T) {
	srv, err := New(WithUser("test", "pw"))
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Close()

	client := dial(t, srv, []ssh.AuthMethod{ssh.Password("pw")})
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer session.Close()

	err = session.Run("exit 3")
	exitErr, ok := err.(*ssh.ExitError)
	if !ok {
		t.Fatalf("expected *ssh.ExitError, got %v", err)
	}
	if exitErr.ExitStatus() != 3 {
		t.Errorf("exit status = %d, want 3", exitErr.ExitStatus())
	}
}

func TestScriptedShell(t *testing.T) {
	script := []byte("banner\x1b]11;rgb:1111/2222/3333\x07prompt$ ")
	srv, err := New(WithUser("test", "pw"), WithScriptedShell(script))
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Close()

	client := dial(t, srv, []ssh.AuthMethod{ssh.Password("pw")})
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	if err := session.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}

	var out bytes.Buffer
	if _, err := out.ReadFrom(stdout); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(out.Bytes(), script) {
		t.Errorf("shell output = %q, want %q", out.Bytes(), script)
	}
	if err := session.Wait(); err != nil {
		t.Errorf("wait: %v", err)
	}
}
