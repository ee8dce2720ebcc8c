// Package security stores credentials in the OS keyring so repeat
// connections to the same host skip the password prompt.
package security

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const service = "bxssh"

// Keyring stores and recalls per-target secrets via the OS keyring
// (Secret Service on Linux, Keychain on macOS, Credential Manager on
// Windows). It implements session.CredentialStore.
type Keyring struct {
	logger *slog.Logger
}

// NewKeyring creates a keyring-backed credential store.
func NewKeyring(logger *slog.Logger) *Keyring {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keyring{logger: logger}
}

func passwordKey(user, host string) string {
	return fmt.Sprintf("password/%s@%s", user, host)
}

func passphraseKey(keyPath string) string {
	return fmt.Sprintf("passphrase/%s", keyPath)
}

// LookupPassword returns a stored password for user@host, if any.
func (k *Keyring) LookupPassword(user, host string) (string, bool) {
	secret, err := keyring.Get(service, passwordKey(user, host))
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			k.logger.Debug("keyring lookup failed", "user", user, "host", host, "error", err.Error())
		}
		return "", false
	}
	return secret, true
}

// StorePassword remembers a password that just authenticated.
func (k *Keyring) StorePassword(user, host, password string) error {
	if err := keyring.Set(service, passwordKey(user, host), password); err != nil {
		return fmt.Errorf("store password in keyring: %w", err)
	}
	k.logger.Debug("password stored", "user", user, "host", host)
	return nil
}

// DeletePassword removes a stored password. Absent entries are not an
// error.
func (k *Keyring) DeletePassword(user, host string) error {
	err := keyring.Delete(service, passwordKey(user, host))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete password from keyring: %w", err)
	}
	return nil
}

// LookupPassphrase returns a stored passphrase for the private key at
// keyPath, if any.
func (k *Keyring) LookupPassphrase(keyPath string) ([]byte, bool) {
	secret, err := keyring.Get(service, passphraseKey(keyPath))
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			k.logger.Debug("keyring lookup failed", "key", keyPath, "error", err.Error())
		}
		return nil, false
	}
	return []byte(secret), true
}

// StorePassphrase remembers a key passphrase that just unlocked the key.
func (k *Keyring) StorePassphrase(keyPath string, passphrase []byte) error {
	if err := keyring.Set(service, passphraseKey(keyPath), string(passphrase)); err != nil {
		return fmt.Errorf("store passphrase in keyring: %w", err)
	}
	return nil
}
