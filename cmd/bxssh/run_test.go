package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/bashx-org/bxssh/internal/logging"
)

// writeKey writes an ed25519 private key, encrypted when passphrase is
// non-empty, and returns its path.
func writeKey(t *testing.T, dir, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

type fakePassStore struct {
	stored map[string][]byte
}

func (s *fakePassStore) LookupPassphrase(keyPath string) ([]byte, bool) {
	pass, ok := s.stored[keyPath]
	return pass, ok
}

func (s *fakePassStore) StorePassphrase(keyPath string, passphrase []byte) error {
	if s.stored == nil {
		s.stored = make(map[string][]byte)
	}
	s.stored[keyPath] = append([]byte(nil), passphrase...)
	return nil
}

type fakePassPrompter struct {
	secret  string
	err     error
	prompts int
}

func (p *fakePassPrompter) Confirm(string) (bool, error) { return false, nil }

func (p *fakePassPrompter) Password(string) (string, error) {
	p.prompts++
	return p.secret, p.err
}

func TestResolvePassphraseUnencryptedKey(t *testing.T) {
	path := writeKey(t, t.TempDir(), "")
	prompter := &fakePassPrompter{}

	pass, err := resolvePassphrase(path, nil, prompter, false, logging.Discard())
	if err != nil {
		t.Fatalf("resolvePassphrase: %v", err)
	}
	if pass != nil {
		t.Errorf("passphrase = %q, want none", pass)
	}
	if prompter.prompts != 0 {
		t.Errorf("prompted %d times for an unencrypted key", prompter.prompts)
	}
}

func TestResolvePassphraseStoredRecall(t *testing.T) {
	path := writeKey(t, t.TempDir(), "opensesame")
	store := &fakePassStore{stored: map[string][]byte{path: []byte("opensesame")}}
	prompter := &fakePassPrompter{}

	pass, err := resolvePassphrase(path, store, prompter, false, logging.Discard())
	if err != nil {
		t.Fatalf("resolvePassphrase: %v", err)
	}
	if string(pass) != "opensesame" {
		t.Errorf("passphrase = %q, want stored value", pass)
	}
	if prompter.prompts != 0 {
		t.Errorf("prompted despite a valid stored passphrase")
	}
}

func TestResolvePassphraseStaleStoredPromptsAgain(t *testing.T) {
	path := writeKey(t, t.TempDir(), "opensesame")
	store := &fakePassStore{stored: map[string][]byte{path: []byte("rotated-away")}}
	prompter := &fakePassPrompter{secret: "opensesame"}

	pass, err := resolvePassphrase(path, store, prompter, false, logging.Discard())
	if err != nil {
		t.Fatalf("resolvePassphrase: %v", err)
	}
	if string(pass) != "opensesame" {
		t.Errorf("passphrase = %q, want prompted value", pass)
	}
	if prompter.prompts != 1 {
		t.Errorf("prompts = %d, want 1", prompter.prompts)
	}
}

func TestResolvePassphrasePromptsWithoutKeyring(t *testing.T) {
	path := writeKey(t, t.TempDir(), "opensesame")
	prompter := &fakePassPrompter{secret: "opensesame"}

	pass, err := resolvePassphrase(path, nil, prompter, false, logging.Discard())
	if err != nil {
		t.Fatalf("resolvePassphrase: %v", err)
	}
	if string(pass) != "opensesame" {
		t.Errorf("passphrase = %q, want prompted value", pass)
	}
}

func TestResolvePassphraseWrongEntry(t *testing.T) {
	path := writeKey(t, t.TempDir(), "opensesame")
	prompter := &fakePassPrompter{secret: "nope"}

	if _, err := resolvePassphrase(path, nil, prompter, false, logging.Discard()); err == nil {
		t.Fatal("expected error for a wrong passphrase")
	}
}

func TestResolvePassphraseRememberStores(t *testing.T) {
	path := writeKey(t, t.TempDir(), "opensesame")
	store := &fakePassStore{}
	prompter := &fakePassPrompter{secret: "opensesame"}

	if _, err := resolvePassphrase(path, store, prompter, true, logging.Discard()); err != nil {
		t.Fatalf("resolvePassphrase: %v", err)
	}
	if string(store.stored[path]) != "opensesame" {
		t.Errorf("stored passphrase = %q, want the one that unlocked the key", store.stored[path])
	}
}

func TestRunMalformedConfigExitsOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("defaults: [broken\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if code := run([]string{"bxssh", "--config", path, "example.com"}); code != exitError {
		t.Errorf("exit code = %d, want %d", code, exitError)
	}
}

func TestRunMissingDestinationExitsUsage(t *testing.T) {
	if code := run([]string{"bxssh"}); code != exitUsage {
		t.Errorf("exit code = %d, want %d", code, exitUsage)
	}
}
