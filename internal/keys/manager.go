// Package keys manages the client's own SSH key pairs.
package keys

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/keygen"
)

// DefaultKeyName is the identity generated by EnsureDefault.
const DefaultKeyName = "id_ed25519"

// Manager creates and lists key pairs under a dedicated directory,
// separate from ~/.ssh so generated keys never clobber hand-managed ones.
type Manager struct {
	dir string
}

// NewManager creates a key manager rooted at dir. An empty dir uses
// ~/.bxssh/keys.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".bxssh", "keys")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the managed key directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Generate creates a new ed25519 key pair named name. The private key is
// written with a 0600 mode, the public key next to it with a .pub suffix.
func (m *Manager) Generate(name string, passphrase []byte) (*keygen.KeyPair, error) {
	if name == "" {
		name = DefaultKeyName
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		return nil, fmt.Errorf("key name %q must not contain path separators", name)
	}

	path := filepath.Join(m.dir, name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("key %q already exists", name)
	}

	opts := []keygen.Option{keygen.WithKeyType(keygen.Ed25519)}
	if len(passphrase) > 0 {
		opts = append(opts, keygen.WithPassphrase(string(passphrase)))
	}

	pair, err := keygen.New(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate key %q: %w", name, err)
	}
	if err := pair.WriteKeys(); err != nil {
		return nil, fmt.Errorf("write key %q: %w", name, err)
	}
	return pair, nil
}

// List returns the names of managed private keys, sorted.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".pub") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Resolve returns the private key path for name, verifying it exists.
func (m *Manager) Resolve(name string) (string, error) {
	path := filepath.Join(m.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("key %q: %w", name, err)
	}
	return path, nil
}

// EnsureDefault returns the path of the default managed identity,
// generating it on first use.
func (m *Manager) EnsureDefault() (string, error) {
	path := filepath.Join(m.dir, DefaultKeyName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if _, err := m.Generate(DefaultKeyName, nil); err != nil {
		return "", err
	}
	return path, nil
}
