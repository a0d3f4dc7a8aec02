package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load loads configuration from a file path and applies environment variable
// overrides. Validation is deferred to allow CLI flag overrides to be applied
// first; callers run cfg.Validate() after applying their flags.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileConfig, err := loadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = fileConfig
	}

	applyEnvironmentOverrides(cfg)

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file, layered over defaults so
// absent fields keep their default values.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies configuration from environment variables.
func applyEnvironmentOverrides(cfg *Config) {
	if stateDir := os.Getenv("OPENCLAW_STATE_DIR"); stateDir != "" {
		cfg.StateDir = stateDir
	}

	if addr := os.Getenv("OPENCLAW_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	if secret := os.Getenv("OPENCLAW_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if token := os.Getenv("OPENCLAW_CONTROL_PLANE_TOKEN"); token != "" {
		cfg.Auth.ControlPlaneToken = token
	}

	if logLevel := os.Getenv("OPENCLAW_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if devMode := os.Getenv("OPENCLAW_DEV_MODE"); devMode == "true" || devMode == "1" {
		cfg.DevMode = true
	}

	if enabled := os.Getenv("OPENCLAW_SCHEDULER_ENABLED"); enabled == "true" || enabled == "1" {
		cfg.Scheduler.Enabled = true
	}

	// Object-store settings for tenant backups
	if bucket := os.Getenv("OPENCLAW_BACKUP_BUCKET"); bucket != "" {
		cfg.Backup.Bucket = bucket
	}
	if prefix := os.Getenv("OPENCLAW_BACKUP_PREFIX"); prefix != "" {
		cfg.Backup.Prefix = prefix
	}
	if region := os.Getenv("OPENCLAW_BACKUP_REGION"); region != "" {
		cfg.Backup.Region = region
	}
	if endpoint := os.Getenv("OPENCLAW_BACKUP_ENDPOINT"); endpoint != "" {
		cfg.Backup.Endpoint = endpoint
	}
	if pathStyle := os.Getenv("OPENCLAW_BACKUP_PATH_STYLE"); pathStyle == "true" || pathStyle == "1" {
		cfg.Backup.ForcePathStyle = true
	}
}
