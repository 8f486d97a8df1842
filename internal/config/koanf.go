// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cuebridge/config.yaml",
	"/etc/cuebridge/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if it exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults. The result is validated before it is
// returned; invalid configuration fails here, never later at Start().
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so that unrelated environment noise never
// pollutes the configuration.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"backend_enabled":    "backend.enabled",
		"backend_url":        "backend.url",
		"backend_api_key":    "backend.api_key",
		"backend_event_code": "backend.event_code",

		"deck_live_threshold":    "deck.live_threshold",
		"deck_pause_grace":       "deck.pause_grace",
		"deck_now_playing_pause": "deck.now_playing_pause",
		"deck_fader_detection":   "deck.fader_detection",
		"deck_master_priority":   "deck.master_priority",

		"serato_enabled":       "serato.enabled",
		"serato_path":          "serato.path",
		"serato_poll_interval": "serato.poll_interval",

		"icecast_enabled": "icecast.enabled",
		"icecast_port":    "icecast.port",

		"bridge_heartbeat":         "bridge.heartbeat",
		"bridge_log_dedup_window":  "bridge.log_dedup_window",
		"bridge_log_dedup_max":     "bridge.log_dedup_max",
		"bridge_reconnect_initial": "bridge.reconnect_initial",
		"bridge_reconnect_max":     "bridge.reconnect_max",

		"breaker_failure_threshold": "breaker.failure_threshold",
		"breaker_cooldown":          "breaker.cooldown",

		"http_host": "server.host",
		"http_port": "server.port",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
