// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package plugin

// Track is normalized track metadata from equipment.
type Track struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album,omitempty"`
}

// Event is the tagged union of everything a plugin can emit. Exactly one
// concrete type below is carried per value.
type Event interface {
	isEvent()
}

// TrackEvent reports a track load (Track != nil) or unload (Track == nil)
// on a deck.
type TrackEvent struct {
	DeckID string
	Track  *Track
}

// PlayStateEvent reports a play/pause change on a deck.
type PlayStateEvent struct {
	DeckID  string
	Playing bool
}

// FaderEvent reports a channel fader level in [0,1].
type FaderEvent struct {
	DeckID string
	Level  float64
}

// MasterDeckEvent reports which deck the equipment marked as master.
type MasterDeckEvent struct {
	DeckID string
}

// ConnectionEvent reports equipment link state.
type ConnectionEvent struct {
	Connected  bool
	DeviceName string
}

// ReadyEvent signals the plugin finished its startup sequence.
type ReadyEvent struct{}

// LogEvent carries a diagnostic line for the operator console.
type LogEvent struct {
	Message string
}

// ErrorEvent carries a non-fatal plugin error.
type ErrorEvent struct {
	Err error
}

func (TrackEvent) isEvent()      {}
func (PlayStateEvent) isEvent()  {}
func (FaderEvent) isEvent()      {}
func (MasterDeckEvent) isEvent() {}
func (ConnectionEvent) isEvent() {}
func (ReadyEvent) isEvent()      {}
func (LogEvent) isEvent()        {}
func (ErrorEvent) isEvent()      {}
