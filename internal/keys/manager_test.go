package keys

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGenerateAndList(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := mgr.Generate("deploy", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	names, err := mgr.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "deploy" {
		t.Errorf("List = %v", names)
	}

	// The private key must parse and the public half must sit next to it.
	keyPath := filepath.Join(mgr.Dir(), "deploy")
	data, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	if _, err := ssh.ParsePrivateKey(data); err != nil {
		t.Errorf("generated key does not parse: %v", err)
	}
	if _, err := os.Stat(keyPath + ".pub"); err != nil {
		t.Errorf("missing public key: %v", err)
	}
}

func TestGenerateRefusesDuplicate(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Generate("dup", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Generate("dup", nil); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestGenerateRejectsPathSeparators(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Generate("../escape", nil); err == nil {
		t.Fatal("expected path separator rejection")
	}
}

func TestResolve(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Generate("work", nil); err != nil {
		t.Fatal(err)
	}

	path, err := mgr.Resolve("work")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Base(path) != "work" {
		t.Errorf("path = %q", path)
	}
	if _, err := mgr.Resolve("absent"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestEnsureDefault(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	path, err := mgr.EnsureDefault()
	if err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}
	if filepath.Base(path) != DefaultKeyName {
		t.Errorf("path = %q", path)
	}

	// Second call reuses the existing key.
	again, err := mgr.EnsureDefault()
	if err != nil {
		t.Fatalf("EnsureDefault again: %v", err)
	}
	if again != path {
		t.Errorf("paths differ: %q vs %q", path, again)
	}
}

func TestEncryptedKeyParsesWithPassphrase(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Generate("vault", []byte("letmein")); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(mgr.Dir(), "vault"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ssh.ParsePrivateKey(data); err == nil {
		t.Error("encrypted key parsed without a passphrase")
	}
	if _, err := ssh.ParsePrivateKeyWithPassphrase(data, []byte("letmein")); err != nil {
		t.Errorf("parse with passphrase: %v", err)
	}
}
