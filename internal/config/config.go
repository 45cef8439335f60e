// Package config defines tamed's configuration schema: the listener
// address, the sqlite-backed stores, the audit HMAC secret source, the
// optional bearer token, rate limiting, and retention sweeping.
package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config is tamed's top-level configuration.
type Config struct {
	// Server configures the HTTP/WebSocket listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures the sqlite-backed policy/session/audit stores.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Audit configures the hash-chain secret and optional file export.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Auth configures the shared-secret bearer token, if any.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// RateLimit configures optional per-caller throttling.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Retention configures C5's sweeper.
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`

	// Policy configures the optional file-backed policy bundle and the
	// seed document applied on first boot.
	Policy PolicyBootstrapConfig `yaml:"policy" mapstructure:"policy"`

	// Bypass, when true, makes enforce short-circuit to allow without
	// consulting the evaluator. Every bypassed entry is tagged
	// bypass=true. Never combine with a production audit store.
	Bypass bool `yaml:"bypass" mapstructure:"bypass"`

	// DevMode enables permissive defaults and verbose logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum slog level. Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// RequestTimeout (e.g. "30s") is applied as the HTTP server's
	// ReadHeaderTimeout. It does not bound how long a handler runs.
	RequestTimeout string `yaml:"request_timeout" mapstructure:"request_timeout" validate:"omitempty"`
}

// DatabaseConfig configures sqlite persistence for C1/C3/session storage.
type DatabaseConfig struct {
	// Path is the sqlite database file. Defaults to "./tame.db".
	Path string `yaml:"path" mapstructure:"path" validate:"omitempty"`
}

// AuditConfig configures the audit log's HMAC chaining secret and
// optional mirrored file export.
type AuditConfig struct {
	// SecretSource names where the HMAC key comes from: "env:VAR_NAME"
	// or "file:///absolute/path". Required — there is no insecure default.
	SecretSource string `yaml:"secret_source" mapstructure:"secret_source" validate:"required,audit_secret_source"`

	// ExportDir is loaded from configuration but not read by the server:
	// Export returns its output to the caller and writes no files.
	ExportDir string `yaml:"export_dir" mapstructure:"export_dir"`
}

// AuthConfig configures the shared-secret bearer token.
type AuthConfig struct {
	// BearerTokenHash is the argon2id hash of the shared-secret bearer
	// token, or empty to accept all callers (explicit development mode —
	// tamesdk status MUST surface this).
	BearerTokenHash string `yaml:"bearer_token_hash" mapstructure:"bearer_token_hash"`
}

// RateLimitConfig configures optional per-caller GCRA throttling.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// PerSessionRate is the per-minute limit configured for session keys.
	// It is passed to the HTTP handler but not applied there: requests are
	// throttled per source IP only (PerIPRate).
	PerSessionRate int `yaml:"per_session_rate" mapstructure:"per_session_rate" validate:"omitempty,min=1"`

	// PerIPRate is the maximum requests per minute per source IP.
	PerIPRate int `yaml:"per_ip_rate" mapstructure:"per_ip_rate" validate:"omitempty,min=1"`

	// CleanupInterval is how often idle limiter entries are swept.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty"`

	// MaxTTL bounds the age of an idle limiter entry before removal.
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty"`
}

// RetentionConfig configures C5's background sweeper.
type RetentionConfig struct {
	// SweepInterval is how often SweepExpired runs. Defaults to "1h".
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"omitempty"`

	// DefaultRetentionDays is applied when ScheduleArchival is called
	// without an explicit window. Defaults to 90.
	DefaultRetentionDays int `yaml:"default_retention_days" mapstructure:"default_retention_days" validate:"omitempty,min=1"`
}

// PolicyBootstrapConfig configures the optional on-disk policy bundle
// tracked by C1's Reload, and the seed document applied when the store
// has no active version yet.
type PolicyBootstrapConfig struct {
	// BundlePath, when set, binds C1's Reload to this file's contents.
	BundlePath string `yaml:"bundle_path" mapstructure:"bundle_path"`

	// SeedDocument is a declarative policy document applied on first
	// boot if the store has no active policy version.
	SeedDocument string `yaml:"seed_document" mapstructure:"seed_document"`
}

// SetDefaults applies sensible default values.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.RequestTimeout == "" {
		c.Server.RequestTimeout = "30s"
	}

	if c.Database.Path == "" {
		c.Database.Path = "./tame.db"
	}

	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.PerSessionRate == 0 {
		c.RateLimit.PerSessionRate = 600
	}
	if c.RateLimit.PerIPRate == 0 {
		c.RateLimit.PerIPRate = 1200
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	if c.Retention.SweepInterval == "" {
		c.Retention.SweepInterval = "1h"
	}
	if c.Retention.DefaultRetentionDays == 0 {
		c.Retention.DefaultRetentionDays = 90
	}
}

// SetDevDefaults applies permissive defaults for development mode,
// applied before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Audit.SecretSource == "" {
		c.Audit.SecretSource = "env:TAME_DEV_AUDIT_SECRET"
		if os.Getenv("TAME_DEV_AUDIT_SECRET") == "" {
			_ = os.Setenv("TAME_DEV_AUDIT_SECRET", "dev-only-insecure-chain-secret")
		}
	}
}
