// Package config loads engine configuration from YAML or JSON files with
// defaults applied and validation at load time.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Detector  DetectorConfig  `json:"detector,omitempty" yaml:"detector,omitempty"`
	Presence  PresenceConfig  `json:"presence,omitempty" yaml:"presence,omitempty"`
	Transport TransportConfig `json:"transport,omitempty" yaml:"transport,omitempty"`
	Backend   BackendConfig   `json:"backend,omitempty" yaml:"backend,omitempty"`
	Audit     AuditConfig     `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// DetectorConfig configures the conflict detector.
type DetectorConfig struct {
	EnableVersionChecking    *bool `json:"enable_version_checking,omitempty" yaml:"enable_version_checking,omitempty"`
	EnableChecksumValidation *bool `json:"enable_checksum_validation,omitempty" yaml:"enable_checksum_validation,omitempty"`
	EnableSessionTracking    *bool `json:"enable_session_tracking,omitempty" yaml:"enable_session_tracking,omitempty"`
	ConflictTimeoutMs        int   `json:"conflict_timeout_ms,omitempty" yaml:"conflict_timeout_ms,omitempty"`
	MaxConflictHistory       int   `json:"max_conflict_history,omitempty" yaml:"max_conflict_history,omitempty"`
}

// PresenceConfig configures the presence tracker.
type PresenceConfig struct {
	HeartbeatIntervalMs int `json:"heartbeat_interval_ms,omitempty" yaml:"heartbeat_interval_ms,omitempty"`
	CleanupIntervalMs   int `json:"cleanup_interval_ms,omitempty" yaml:"cleanup_interval_ms,omitempty"`
	PresenceTimeoutMs   int `json:"presence_timeout_ms,omitempty" yaml:"presence_timeout_ms,omitempty"`
}

// TransportConfig configures the realtime client's reconnect behavior.
type TransportConfig struct {
	MaxRetries        int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BaseDelayMs       int     `json:"base_delay_ms,omitempty" yaml:"base_delay_ms,omitempty"`
	MaxDelayMs        int     `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`
}

// BackendConfig points at the external collaborator services.
type BackendConfig struct {
	CollabURL        string `json:"collab_url,omitempty" yaml:"collab_url,omitempty"`
	RequestTimeoutMs int    `json:"request_timeout_ms,omitempty" yaml:"request_timeout_ms,omitempty"`
	RedisAddr        string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	WebsocketURL     string `json:"websocket_url,omitempty" yaml:"websocket_url,omitempty"`
	AuditDBPath      string `json:"audit_db_path,omitempty" yaml:"audit_db_path,omitempty"`
}

// AuditConfig configures the Kafka audit dispatcher.
type AuditConfig struct {
	Brokers   []string `json:"brokers,omitempty" yaml:"brokers,omitempty"`
	Topic     string   `json:"topic,omitempty" yaml:"topic,omitempty"`
	QueueSize int      `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	Workers   int      `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// Default returns a Config with every field at its documented default.
func Default() *Config {
	enabled := true
	return &Config{
		Detector: DetectorConfig{
			EnableVersionChecking:    &enabled,
			EnableChecksumValidation: &enabled,
			EnableSessionTracking:    &enabled,
			ConflictTimeoutMs:        30000,
			MaxConflictHistory:       100,
		},
		Presence: PresenceConfig{
			HeartbeatIntervalMs: 30000,
			CleanupIntervalMs:   60000,
			PresenceTimeoutMs:   120000,
		},
		Transport: TransportConfig{
			MaxRetries:        10,
			BaseDelayMs:       1000,
			MaxDelayMs:        30000,
			BackoffMultiplier: 2,
		},
		Backend: BackendConfig{
			RequestTimeoutMs: 10000,
		},
		Audit: AuditConfig{
			Topic:     "conflict-audit",
			QueueSize: 1024,
			Workers:   2,
		},
	}
}

// Load reads a YAML or JSON config file, fills unset fields with the
// defaults, and validates the result. Format is chosen by file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills fields a partial file left at zero.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Detector.EnableVersionChecking == nil {
		c.Detector.EnableVersionChecking = def.Detector.EnableVersionChecking
	}
	if c.Detector.EnableChecksumValidation == nil {
		c.Detector.EnableChecksumValidation = def.Detector.EnableChecksumValidation
	}
	if c.Detector.EnableSessionTracking == nil {
		c.Detector.EnableSessionTracking = def.Detector.EnableSessionTracking
	}
	if c.Detector.ConflictTimeoutMs == 0 {
		c.Detector.ConflictTimeoutMs = def.Detector.ConflictTimeoutMs
	}
	if c.Detector.MaxConflictHistory == 0 {
		c.Detector.MaxConflictHistory = def.Detector.MaxConflictHistory
	}
	if c.Presence.HeartbeatIntervalMs == 0 {
		c.Presence.HeartbeatIntervalMs = def.Presence.HeartbeatIntervalMs
	}
	if c.Presence.CleanupIntervalMs == 0 {
		c.Presence.CleanupIntervalMs = def.Presence.CleanupIntervalMs
	}
	if c.Presence.PresenceTimeoutMs == 0 {
		c.Presence.PresenceTimeoutMs = def.Presence.PresenceTimeoutMs
	}
	if c.Transport.MaxRetries == 0 {
		c.Transport.MaxRetries = def.Transport.MaxRetries
	}
	if c.Transport.BaseDelayMs == 0 {
		c.Transport.BaseDelayMs = def.Transport.BaseDelayMs
	}
	if c.Transport.MaxDelayMs == 0 {
		c.Transport.MaxDelayMs = def.Transport.MaxDelayMs
	}
	if c.Transport.BackoffMultiplier == 0 {
		c.Transport.BackoffMultiplier = def.Transport.BackoffMultiplier
	}
	if c.Backend.RequestTimeoutMs == 0 {
		c.Backend.RequestTimeoutMs = def.Backend.RequestTimeoutMs
	}
	if c.Audit.Topic == "" {
		c.Audit.Topic = def.Audit.Topic
	}
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = def.Audit.QueueSize
	}
	if c.Audit.Workers == 0 {
		c.Audit.Workers = def.Audit.Workers
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Detector.ConflictTimeoutMs < 0 {
		return fmt.Errorf("detector.conflict_timeout_ms must not be negative")
	}
	if c.Detector.MaxConflictHistory < 0 {
		return fmt.Errorf("detector.max_conflict_history must not be negative")
	}
	if c.Presence.HeartbeatIntervalMs <= 0 || c.Presence.CleanupIntervalMs <= 0 {
		return fmt.Errorf("presence intervals must be positive")
	}
	if c.Presence.PresenceTimeoutMs <= c.Presence.HeartbeatIntervalMs {
		return fmt.Errorf("presence.presence_timeout_ms must exceed the heartbeat interval")
	}
	if c.Transport.MaxRetries < 0 {
		return fmt.Errorf("transport.max_retries must not be negative")
	}
	if c.Transport.BackoffMultiplier < 1 {
		return fmt.Errorf("transport.backoff_multiplier must be at least 1")
	}
	if c.Transport.MaxDelayMs < c.Transport.BaseDelayMs {
		return fmt.Errorf("transport.max_delay_ms must not be below transport.base_delay_ms")
	}
	return nil
}

// ConflictTimeout returns the detector window as a Duration.
func (c *Config) ConflictTimeout() time.Duration {
	return time.Duration(c.Detector.ConflictTimeoutMs) * time.Millisecond
}

// HeartbeatInterval returns the presence heartbeat interval as a Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Presence.HeartbeatIntervalMs) * time.Millisecond
}

// CleanupInterval returns the presence cleanup interval as a Duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Presence.CleanupIntervalMs) * time.Millisecond
}

// PresenceTimeout returns the presence staleness cutoff as a Duration.
func (c *Config) PresenceTimeout() time.Duration {
	return time.Duration(c.Presence.PresenceTimeoutMs) * time.Millisecond
}

// BaseDelay returns the reconnect base delay as a Duration.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Transport.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the reconnect delay cap as a Duration.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Transport.MaxDelayMs) * time.Millisecond
}

// RequestTimeout returns the collaborator request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutMs) * time.Millisecond
}
