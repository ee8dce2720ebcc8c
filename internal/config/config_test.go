package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Defaults.Port != 22 {
		t.Errorf("port = %d, want 22", cfg.Defaults.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q, want info", cfg.Logging.Level)
	}
	if !cfg.Logging.Sanitize {
		t.Error("sanitize should default on")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `defaults:
  port: 2222
  user: deploy
  connect_timeout: 10s
logging:
  level: debug
hosts:
  - pattern: "web*"
    hostname: web.internal
    user: admin
    port: 2022
transfer:
  concurrency: 8
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Defaults.Port != 2222 || cfg.Defaults.User != "deploy" {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
	if cfg.Defaults.ConnectTimeout != 10*time.Second {
		t.Errorf("connect_timeout = %v", cfg.Defaults.ConnectTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Transfer.Concurrency != 8 {
		t.Errorf("concurrency = %d", cfg.Transfer.Concurrency)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("defaults: ["), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Defaults.Port = -1
	cfg.Transfer.Concurrency = 0
	cfg.Validate()
	if cfg.Defaults.Port != 22 {
		t.Errorf("port = %d", cfg.Defaults.Port)
	}
	if cfg.Transfer.Concurrency != 4 {
		t.Errorf("concurrency = %d", cfg.Transfer.Concurrency)
	}
}

func TestHostFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hosts = []HostConfig{
		{Pattern: "web*", User: "www"},
		{Pattern: "*.internal", User: "ops"},
	}

	if hc := cfg.HostFor("web1"); hc == nil || hc.User != "www" {
		t.Errorf("HostFor(web1) = %+v", hc)
	}
	if hc := cfg.HostFor("db.internal"); hc == nil || hc.User != "ops" {
		t.Errorf("HostFor(db.internal) = %+v", hc)
	}
	if hc := cfg.HostFor("other"); hc != nil {
		t.Errorf("HostFor(other) = %+v, want nil", hc)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Defaults.User = "carol"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Defaults.User != "carol" {
		t.Errorf("user = %q", loaded.Defaults.User)
	}
}
