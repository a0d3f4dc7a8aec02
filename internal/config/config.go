// Package config loads gateway configuration from a JSON file with
// environment variable overrides. Validation is deferred so CLI flags can be
// applied on top before Validate is called.
package config

// Config holds all configuration for the openclaw gateway.
type Config struct {
	// StateDir is the root of all persisted state (tenants.json, per-tenant
	// subtrees, metrics snapshots).
	StateDir string `json:"stateDir"`

	// ListenAddr is the bind address for the gateway HTTP server (WebSocket
	// RPC, OpenAI-compat surface and internal control plane share it).
	ListenAddr string `json:"listenAddr"`

	Auth      AuthConfig      `json:"auth"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Backup    BackupConfig    `json:"backup"`

	// DefaultAgentID is the agent used when a tenant's config names none.
	DefaultAgentID string `json:"defaultAgentId"`

	DevMode  bool   `json:"devMode"`
	LogLevel string `json:"logLevel"`
}

// AuthConfig carries the gateway's non-tenant authentication material.
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 operator tokens presented at the
	// WebSocket handshake. Empty disables operator JWT auth.
	JWTSecret string `json:"jwtSecret,omitempty"`

	// ControlPlaneToken is compared (constant-time) against the
	// X-Control-Plane-Token header on /internal/v1. Empty denies all
	// control-plane requests.
	ControlPlaneToken string `json:"controlPlaneToken,omitempty"`
}

// SchedulerConfig controls the cron supervisor.
type SchedulerConfig struct {
	// Enabled starts schedulers on boot and on ensureTenant. When false,
	// tenant schedulers are created stopped.
	Enabled bool `json:"enabled"`
}

// BackupConfig is the pass-through object-store configuration.
type BackupConfig struct {
	Bucket         string `json:"bucket,omitempty"`
	Prefix         string `json:"prefix,omitempty"`
	Region         string `json:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	ForcePathStyle bool   `json:"forcePathStyle,omitempty"`
}

// DefaultConfig returns the built-in defaults applied before file, env and
// flag overrides.
func DefaultConfig() *Config {
	return &Config{
		StateDir:       "/var/lib/openclaw",
		ListenAddr:     ":8443",
		DefaultAgentID: "main",
		LogLevel:       "info",
		Backup: BackupConfig{
			Prefix: "backups",
		},
	}
}

// Validate checks the configuration after all override layers are applied.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return ErrMissingStateDir
	}
	if c.ListenAddr == "" {
		return ErrMissingListenAddr
	}
	return nil
}
