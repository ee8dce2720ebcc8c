package ssh

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// PrivateKeyAuth loads the private key at keyPath and returns the auth
// methods for one key-based handshake. When an SSH agent is reachable its
// identities are offered as well.
func PrivateKeyAuth(keyPath string, passphrase []byte) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if agentAuth, err := AgentAuth(); err == nil {
		methods = append(methods, agentAuth)
	}

	keyData, err := os.ReadFile(ExpandPath(keyPath))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", keyPath, err)
	}

	return append(methods, ssh.PublicKeys(signer)), nil
}

// NeedsPassphrase reports whether the private key at keyPath is encrypted.
// Missing or otherwise unparsable keys report false; the handshake surfaces
// those errors with full context.
func NeedsPassphrase(keyPath string) bool {
	keyData, err := os.ReadFile(ExpandPath(keyPath))
	if err != nil {
		return false
	}
	_, err = ssh.ParsePrivateKey(keyData)
	var missing *ssh.PassphraseMissingError
	return errors.As(err, &missing)
}

// CheckPassphrase reports whether passphrase decrypts the key at keyPath.
func CheckPassphrase(keyPath string, passphrase []byte) bool {
	keyData, err := os.ReadFile(ExpandPath(keyPath))
	if err != nil {
		return false
	}
	_, err = ssh.ParsePrivateKeyWithPassphrase(keyData, passphrase)
	return err == nil
}

// AgentAuth returns an auth method backed by the running SSH agent.
func AgentAuth() (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}

	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

// KeyboardInteractiveAuth answers every keyboard-interactive challenge
// with the given password. Many sshd configurations use this instead of
// plain password authentication.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}

// BuildHostKeyCallback creates a host key callback from known_hosts. A
// missing file accepts any key; this is a client for hosts the user
// already trusts, not a trust-on-first-use store.
func BuildHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	expanded := ExpandPath(knownHostsPath)

	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// DefaultIdentity returns the first usable identity for host: the
// IdentityFile from ~/.ssh/config if a Host stanza matches, otherwise the
// first default key that exists on disk. Empty when nothing was found.
func DefaultIdentity(host string) string {
	if path := configIdentityFile(ExpandPath("~/.ssh/config"), host); path != "" {
		return path
	}

	for _, candidate := range []string{
		"~/.ssh/id_ed25519",
		"~/.ssh/id_rsa",
		"~/.ssh/id_ecdsa",
	} {
		expanded := ExpandPath(candidate)
		if _, err := os.Stat(expanded); err == nil {
			return expanded
		}
	}
	return ""
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// configIdentityFile scans an OpenSSH client config for the IdentityFile
// of the first Host stanza matching host.
func configIdentityFile(configPath, host string) string {
	file, err := os.Open(configPath)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	matches := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "host":
			matches = matchHostPatterns(host, fields[1:])
		case "identityfile":
			if matches {
				return ExpandPath(strings.Join(fields[1:], " "))
			}
		}
	}
	return ""
}

// matchHostPatterns applies OpenSSH Host patterns (* and ? wildcards,
// ! negation) to host. Patterns use the same wildcard semantics as path
// globs with no separator, so doublestar does the matching.
func matchHostPatterns(host string, patterns []string) bool {
	matched := false
	for _, p := range patterns {
		negate := strings.HasPrefix(p, "!")
		if negate {
			p = p[1:]
		}
		ok, err := doublestar.Match(p, host)
		if err != nil || !ok {
			continue
		}
		if negate {
			return false
		}
		matched = true
	}
	return matched
}
