package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Detector.ConflictTimeoutMs != 30000 || cfg.Detector.MaxConflictHistory != 100 {
		t.Errorf("detector defaults = %+v", cfg.Detector)
	}
	if !*cfg.Detector.EnableVersionChecking || !*cfg.Detector.EnableChecksumValidation || !*cfg.Detector.EnableSessionTracking {
		t.Error("detector checks must default to enabled")
	}
	if cfg.Presence.HeartbeatIntervalMs != 30000 || cfg.Presence.CleanupIntervalMs != 60000 || cfg.Presence.PresenceTimeoutMs != 120000 {
		t.Errorf("presence defaults = %+v", cfg.Presence)
	}
	if cfg.Transport.MaxRetries != 10 || cfg.Transport.BaseDelayMs != 1000 || cfg.Transport.MaxDelayMs != 30000 || cfg.Transport.BackoffMultiplier != 2 {
		t.Errorf("transport defaults = %+v", cfg.Transport)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadYAMLAppliesPartialOverrides(t *testing.T) {
	path := writeConfig(t, "collab.yaml", `
detector:
  conflict_timeout_ms: 5000
  enable_session_tracking: false
transport:
  max_retries: 3
backend:
  collab_url: http://collab.internal
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Detector.ConflictTimeoutMs != 5000 {
		t.Errorf("conflict_timeout_ms = %d", cfg.Detector.ConflictTimeoutMs)
	}
	if *cfg.Detector.EnableSessionTracking {
		t.Error("session tracking override lost")
	}
	if !*cfg.Detector.EnableVersionChecking {
		t.Error("unset toggle must keep its default")
	}
	if cfg.Transport.MaxRetries != 3 {
		t.Errorf("max_retries = %d", cfg.Transport.MaxRetries)
	}
	if cfg.Transport.BaseDelayMs != 1000 {
		t.Error("unset transport field must keep its default")
	}
	if cfg.Backend.CollabURL != "http://collab.internal" {
		t.Errorf("collab_url = %q", cfg.Backend.CollabURL)
	}
	if cfg.ConflictTimeout() != 5*time.Second {
		t.Errorf("ConflictTimeout() = %v", cfg.ConflictTimeout())
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "collab.json", `{"presence": {"heartbeat_interval_ms": 1000, "presence_timeout_ms": 4000}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HeartbeatInterval() != time.Second || cfg.PresenceTimeout() != 4*time.Second {
		t.Errorf("presence = %+v", cfg.Presence)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"timeout below heartbeat", "presence:\n  heartbeat_interval_ms: 5000\n  presence_timeout_ms: 4000\n"},
		{"multiplier below one", "transport:\n  backoff_multiplier: 0.5\n"},
		{"max delay below base", "transport:\n  base_delay_ms: 5000\n  max_delay_ms: 2000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "collab.yaml", tt.body)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	path := writeConfig(t, "collab.toml", "whatever = true")
	if _, err := Load(path); err == nil {
		t.Error("expected format error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
