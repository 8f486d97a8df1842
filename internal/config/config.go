// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package config loads and validates Cuebridge configuration from layered
// sources: built-in defaults, an optional YAML file, and environment
// variables (highest priority).
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for the bridge daemon.
type Config struct {
	Backend BackendConfig `koanf:"backend"`
	Deck    DeckConfig    `koanf:"deck"`
	Serato  SeratoConfig  `koanf:"serato"`
	Icecast IcecastConfig `koanf:"icecast"`
	Bridge  BridgeConfig  `koanf:"bridge"`
	Breaker BreakerConfig `koanf:"breaker"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// BackendConfig describes the event backend that receives now-playing
// and status reports.
type BackendConfig struct {
	Enabled   bool   `koanf:"enabled"`
	URL       string `koanf:"url" validate:"omitempty,url"`
	APIKey    string `koanf:"api_key"`
	EventCode string `koanf:"event_code"`
}

// DeckConfig tunes the liveness state machine.
type DeckConfig struct {
	// LiveThreshold is the continuous play time before a track is
	// considered live to the audience.
	LiveThreshold time.Duration `koanf:"live_threshold"`

	// PauseGrace is the pause tolerance before accumulated play time is
	// discarded (while cueing) or a playing track is considered ended.
	PauseGrace time.Duration `koanf:"pause_grace"`

	// NowPlayingPause is how long the priority deck may stay paused or
	// faded out before priority is handed to another deck.
	NowPlayingPause time.Duration `koanf:"now_playing_pause"`

	FaderDetection bool `koanf:"fader_detection"`
	MasterPriority bool `koanf:"master_priority"`
}

// SeratoConfig configures the session-file adapter.
type SeratoConfig struct {
	Enabled bool `koanf:"enabled"`

	// Path is the Serato session directory. Auto-detected when empty.
	Path string `koanf:"path"`

	// PollInterval is how often the session file is re-read.
	// Must be between 200ms and 10s.
	PollInterval time.Duration `koanf:"poll_interval"`
}

// IcecastConfig configures the ICY metadata stream adapter.
type IcecastConfig struct {
	Enabled bool `koanf:"enabled"`

	// Port the ICY source server listens on. Must be 1024-65535.
	Port int `koanf:"port"`
}

// BridgeConfig tunes plugin bridge housekeeping.
type BridgeConfig struct {
	Heartbeat        time.Duration `koanf:"heartbeat"`
	LogDedupWindow   time.Duration `koanf:"log_dedup_window"`
	LogDedupMax      int           `koanf:"log_dedup_max"`
	ReconnectInitial time.Duration `koanf:"reconnect_initial"`
	ReconnectMax     time.Duration `koanf:"reconnect_max"`
}

// BreakerConfig tunes the backend circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	Cooldown         time.Duration `koanf:"cooldown"`
}

// ServerConfig configures the diagnostics HTTP server.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Enabled:   false,
			URL:       "",
			APIKey:    "",
			EventCode: "",
		},
		Deck: DeckConfig{
			LiveThreshold:   30 * time.Second,
			PauseGrace:      10 * time.Second,
			NowPlayingPause: 5 * time.Second,
			FaderDetection:  true,
			MasterPriority:  true,
		},
		Serato: SeratoConfig{
			Enabled:      false,
			Path:         "", // auto-detect
			PollInterval: 2 * time.Second,
		},
		Icecast: IcecastConfig{
			Enabled: false,
			Port:    8001,
		},
		Bridge: BridgeConfig{
			Heartbeat:        120 * time.Second,
			LogDedupWindow:   60 * time.Second,
			LogDedupMax:      200,
			ReconnectInitial: 2 * time.Second,
			ReconnectMax:     30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Cooldown:         60 * time.Second,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3858,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// DefaultSeratoPath returns the conventional Serato session directory for
// the current user, or empty when the home directory cannot be resolved.
func DefaultSeratoPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Music", "_Serato_", "History", "Sessions")
}
