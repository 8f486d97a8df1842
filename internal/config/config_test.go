// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should validate, got: %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Deck.LiveThreshold != 30*time.Second {
		t.Errorf("expected 30s live threshold, got %s", cfg.Deck.LiveThreshold)
	}
	if cfg.Deck.PauseGrace != 10*time.Second {
		t.Errorf("expected 10s pause grace, got %s", cfg.Deck.PauseGrace)
	}
	if cfg.Breaker.FailureThreshold != 3 {
		t.Errorf("expected failure threshold 3, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.Cooldown != 60*time.Second {
		t.Errorf("expected 60s cooldown, got %s", cfg.Breaker.Cooldown)
	}
	if cfg.Icecast.Port != 8001 {
		t.Errorf("expected default icecast port 8001, got %d", cfg.Icecast.Port)
	}
}

func TestValidateIcecastPortRange(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		enabled bool
		wantErr bool
	}{
		{"valid port", 8001, true, false},
		{"min boundary", 1024, true, false},
		{"max boundary", 65535, true, false},
		{"below range", 1023, true, true},
		{"privileged port", 80, true, true},
		{"above range", 65536, true, true},
		{"disabled skips check", 80, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Icecast.Enabled = tt.enabled
			cfg.Icecast.Port = tt.port

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("expected validation error for port %d", tt.port)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for port %d: %v", tt.port, err)
			}
		})
	}
}

func TestValidatePollIntervalRange(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		wantErr  bool
	}{
		{"valid", 2 * time.Second, false},
		{"min boundary", 200 * time.Millisecond, false},
		{"max boundary", 10 * time.Second, false},
		{"too fast", 100 * time.Millisecond, true},
		{"too slow", 11 * time.Second, true},
		{"zero", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Serato.Enabled = true
			cfg.Serato.PollInterval = tt.interval

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("expected validation error for interval %s", tt.interval)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for interval %s: %v", tt.interval, err)
			}
		})
	}
}

func TestValidateBackendRequiresURLAndEventCode(t *testing.T) {
	cfg := defaultConfig()
	cfg.Backend.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error when backend enabled without url")
	}
	if !strings.Contains(err.Error(), "backend.url") {
		t.Errorf("expected error to mention backend.url, got: %v", err)
	}

	cfg.Backend.URL = "http://localhost:4000"
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected error when backend enabled without event code")
	}
	if !strings.Contains(err.Error(), "backend.event_code") {
		t.Errorf("expected error to mention backend.event_code, got: %v", err)
	}

	cfg.Backend.EventCode = "summer-festival"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid backend config, got: %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"BACKEND_URL", "backend.url"},
		{"ICECAST_PORT", "icecast.port"},
		{"SERATO_POLL_INTERVAL", "serato.poll_interval"},
		{"DECK_LIVE_THRESHOLD", "deck.live_threshold"},
		{"LOG_LEVEL", "logging.level"},
		{"HTTP_PORT", "server.port"},
		{"RANDOM_UNRELATED_VAR", ""},
		{"PATH", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestValidateLoggingLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging.Level = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown log level")
	}
}
