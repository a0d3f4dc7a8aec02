package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.StateDir != "/var/lib/openclaw" {
		t.Errorf("default StateDir = %q", cfg.StateDir)
	}
	if cfg.ListenAddr != ":8443" {
		t.Errorf("default ListenAddr = %q", cfg.ListenAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openclaw.json")
	content := `{
		"stateDir": "/tmp/claw-state",
		"listenAddr": ":9000",
		"auth": {"controlPlaneToken": "cp-secret"},
		"scheduler": {"enabled": true},
		"backup": {"bucket": "claw-backups", "region": "us-east-1"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StateDir != "/tmp/claw-state" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.Auth.ControlPlaneToken != "cp-secret" {
		t.Errorf("ControlPlaneToken = %q", cfg.Auth.ControlPlaneToken)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("Scheduler.Enabled should be true")
	}
	if cfg.Backup.Bucket != "claw-backups" {
		t.Errorf("Backup.Bucket = %q", cfg.Backup.Bucket)
	}
	// Field absent from the file keeps its default.
	if cfg.Backup.Prefix != "backups" {
		t.Errorf("Backup.Prefix = %q, want default", cfg.Backup.Prefix)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrConfigFileNotFound) {
		t.Errorf("err = %v, want ErrConfigFileNotFound", err)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfigFormat) {
		t.Errorf("err = %v, want ErrInvalidConfigFormat", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OPENCLAW_STATE_DIR", "/srv/claw")
	t.Setenv("OPENCLAW_SCHEDULER_ENABLED", "1")
	t.Setenv("OPENCLAW_CONTROL_PLANE_TOKEN", "env-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StateDir != "/srv/claw" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("scheduler should be enabled via env")
	}
	if cfg.Auth.ControlPlaneToken != "env-token" {
		t.Errorf("ControlPlaneToken = %q", cfg.Auth.ControlPlaneToken)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateDir = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingStateDir) {
		t.Errorf("err = %v, want ErrMissingStateDir", err)
	}

	cfg = DefaultConfig()
	cfg.ListenAddr = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingListenAddr) {
		t.Errorf("err = %v, want ErrMissingListenAddr", err)
	}
}
