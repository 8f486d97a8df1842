// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package plugin defines the contract every equipment source plugin
// implements. A plugin wraps one device protocol, owns its connection
// lifecycle, and emits normalized events (track, play state, fader,
// master deck, connection) on a channel consumed by the bridge.
//
// Plugins differ only by their declared Capabilities; synthesis of
// missing capabilities (e.g. play state for track-change-only equipment)
// is the bridge's job, never the plugin's.
package plugin

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyRunning is returned by Start on a plugin that is running.
var ErrAlreadyRunning = errors.New("plugin already running")

// Info identifies a plugin to operators and diagnostics.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Capabilities declares which event kinds a plugin emits natively.
// Immutable for the lifetime of the plugin.
type Capabilities struct {
	MultiDeck     bool `json:"multi_deck"`
	PlayState     bool `json:"play_state"`
	FaderLevel    bool `json:"fader_level"`
	MasterDeck    bool `json:"master_deck"`
	AlbumMetadata bool `json:"album_metadata"`
}

// OptionType is the declared type of a plugin config option.
type OptionType string

const (
	OptionString OptionType = "string"
	OptionInt    OptionType = "int"
)

// ConfigOption describes one typed plugin configuration knob.
type ConfigOption struct {
	Name        string     `json:"name"`
	Type        OptionType `json:"type"`
	Description string     `json:"description"`
	Default     any        `json:"default,omitempty"`
	Min         int        `json:"min,omitempty"`
	Max         int        `json:"max,omitempty"`
}

// Config carries plugin start options keyed by ConfigOption name.
type Config map[string]any

// Source is the contract every equipment source plugin implements.
//
// Start must fail with ErrAlreadyRunning on a running plugin. Stop must
// be idempotent. Events returns the channel for the current run; it is
// closed when the plugin stops, and a fresh channel is created by the
// next Start, so consumers must re-fetch it after a restart.
type Source interface {
	Info() Info
	Capabilities() Capabilities
	ConfigOptions() []ConfigOption
	Start(cfg Config) error
	Stop() error
	Running() bool
	Events() <-chan Event
}

// IntOption reads an integer option, accepting the numeric types YAML
// and JSON decoding produce.
func IntOption(cfg Config, name string, def int) (int, error) {
	v, ok := cfg[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("option %q: expected integer, got %T", name, v)
	}
}

// StringOption reads a string option.
func StringOption(cfg Config, name string, def string) (string, error) {
	v, ok := cfg[name]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %q: expected string, got %T", name, v)
	}
	return s, nil
}

// DurationOption reads a duration option given in milliseconds.
func DurationOption(cfg Config, name string, def time.Duration) (time.Duration, error) {
	v, ok := cfg[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case time.Duration:
		return n, nil
	case int:
		return time.Duration(n) * time.Millisecond, nil
	case int64:
		return time.Duration(n) * time.Millisecond, nil
	case float64:
		return time.Duration(n) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("option %q: expected duration in milliseconds, got %T", name, v)
	}
}
