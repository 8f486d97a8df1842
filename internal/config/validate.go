// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Bounds for adapter configuration. Values outside these ranges are
// rejected at load time, never silently clamped.
const (
	MinIcecastPort = 1024
	MaxIcecastPort = 65535

	MinPollInterval = 200 * time.Millisecond
	MaxPollInterval = 10 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and returns a descriptive error for
// the first problem found. Errors here must reach the operator verbatim.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Icecast.Enabled {
		if c.Icecast.Port < MinIcecastPort || c.Icecast.Port > MaxIcecastPort {
			return fmt.Errorf("icecast.port must be between %d and %d, got %d",
				MinIcecastPort, MaxIcecastPort, c.Icecast.Port)
		}
	}

	if c.Serato.Enabled {
		if c.Serato.PollInterval < MinPollInterval || c.Serato.PollInterval > MaxPollInterval {
			return fmt.Errorf("serato.poll_interval must be between %s and %s, got %s",
				MinPollInterval, MaxPollInterval, c.Serato.PollInterval)
		}
	}

	if c.Backend.Enabled {
		if c.Backend.URL == "" {
			return fmt.Errorf("backend.url is required when backend reporting is enabled")
		}
		if c.Backend.EventCode == "" {
			return fmt.Errorf("backend.event_code is required when backend reporting is enabled")
		}
	}

	if c.Deck.LiveThreshold <= 0 {
		return fmt.Errorf("deck.live_threshold must be positive, got %s", c.Deck.LiveThreshold)
	}
	if c.Deck.PauseGrace < 0 {
		return fmt.Errorf("deck.pause_grace must not be negative, got %s", c.Deck.PauseGrace)
	}

	return nil
}
