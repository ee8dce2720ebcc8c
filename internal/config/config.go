// Package config handles configuration parsing for bxssh.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/bxssh/config.yaml or ~/.config/bxssh/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "bxssh", "config.yaml")
}

// Config is the top-level configuration.
type Config struct {
	Defaults  Defaults        `yaml:"defaults"`
	Hosts     []HostConfig    `yaml:"hosts"`
	Logging   LoggingConfig   `yaml:"logging"`
	Recording RecordingConfig `yaml:"recording"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Keyring   KeyringConfig   `yaml:"keyring"`
}

// Defaults apply when neither the command line nor a host entry sets a
// value.
type Defaults struct {
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	IdentityPath   string        `yaml:"identity_path"`
	Term           string        `yaml:"term"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	BufferSize     int           `yaml:"buffer_size"` // pump buffer per direction
}

// HostConfig customizes connections whose target matches Pattern
// (OpenSSH-style * and ? wildcards).
type HostConfig struct {
	Pattern      string `yaml:"pattern"`
	HostName     string `yaml:"hostname"` // dial this instead of the pattern
	User         string `yaml:"user"`
	Port         int    `yaml:"port"`
	IdentityPath string `yaml:"identity_path"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // redact sensitive data from logs
}

// RecordingConfig defines session recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // directory for asciicast files
}

// TransferConfig tunes --put/--get file transfers.
type TransferConfig struct {
	Concurrency int `yaml:"concurrency"` // parallel transfers per glob
}

// KeyringConfig controls OS keyring credential storage.
type KeyringConfig struct {
	Enabled  bool `yaml:"enabled"`
	Remember bool `yaml:"remember"` // store passwords that authenticate
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			Port:           22,
			Term:           "xterm-256color",
			ConnectTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Transfer: TransferConfig{
			Concurrency: 4,
		},
		Keyring: KeyringConfig{
			Enabled: true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; a present but malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate normalizes out-of-range values.
func (c *Config) Validate() error {
	if c.Defaults.Port <= 0 || c.Defaults.Port > 65535 {
		c.Defaults.Port = 22
	}
	if c.Transfer.Concurrency <= 0 {
		c.Transfer.Concurrency = 4
	}
	return nil
}

// HostFor returns the first host entry whose pattern matches host, or nil.
func (c *Config) HostFor(host string) *HostConfig {
	for i := range c.Hosts {
		ok, err := doublestar.Match(c.Hosts[i].Pattern, host)
		if err == nil && ok {
			return &c.Hosts[i]
		}
	}
	return nil
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
