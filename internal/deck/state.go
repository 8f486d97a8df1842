// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package deck

import (
	"errors"
	"time"
)

// MaxDecks bounds the deck table. Reaching the bound triggers eviction of
// an inactive deck; if none is evictable the operation fails.
const MaxDecks = 16

// State is a deck's position in the liveness state machine.
type State string

const (
	StateEmpty   State = "empty"
	StateLoaded  State = "loaded"
	StateCueing  State = "cueing"
	StatePlaying State = "playing"
	StateEnded   State = "ended"
)

var (
	// ErrDestroyed is returned by operations on a destroyed manager.
	ErrDestroyed = errors.New("deck manager destroyed")

	// ErrDeckLimit is returned when a new deck id cannot be admitted
	// because the table is full and no deck is evictable.
	ErrDeckLimit = errors.New("maximum deck limit reached")
)

// Track is the metadata reported when a deck goes live.
type Track struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album,omitempty"`
}

// Config tunes the liveness state machine.
type Config struct {
	// LiveThreshold is the continuous play time required before a loaded
	// track is judged live to the audience.
	LiveThreshold time.Duration

	// PauseGrace is the pause tolerance: shorter pauses preserve
	// accumulated play time while cueing, and keep a playing track from
	// being considered ended.
	PauseGrace time.Duration

	// NowPlayingPause is how long the priority deck may stay paused or
	// faded out before now-playing priority is handed off.
	NowPlayingPause time.Duration

	// FaderDetection gates reports on fader level > 0.
	FaderDetection bool

	// MasterPriority gates reports on master-deck status when the
	// equipment designates a master.
	MasterPriority bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		LiveThreshold:   30 * time.Second,
		PauseGrace:      10 * time.Second,
		NowPlayingPause: 5 * time.Second,
		FaderDetection:  true,
		MasterPriority:  true,
	}
}

// Live is emitted exactly once per track load when the deck crosses the
// liveness threshold with all gating conditions satisfied.
type Live struct {
	DeckID string
	Track  Track
}

// Snapshot is a read-only view of one deck for diagnostics.
type Snapshot struct {
	DeckID   string  `json:"deck_id"`
	State    State   `json:"state"`
	Track    *Track  `json:"track,omitempty"`
	Playing  bool    `json:"playing"`
	Fader    float64 `json:"fader"`
	Master   bool    `json:"master"`
	Reported bool    `json:"reported"`
}

// deckState is the per-deck record. All fields are guarded by the
// manager mutex.
type deckState struct {
	state       State
	track       *Track
	playing     bool
	playStart   time.Time
	accumulated time.Duration
	lastPause   time.Time
	fader       float64
	master      bool
	reported    bool

	// timer is the threshold timer (while cueing) or the grace timer
	// (while paused in playing). The two never coexist. timerGen
	// invalidates stale callbacks: a fired callback whose generation no
	// longer matches lost the race against cancellation and must not act.
	timer    *time.Timer
	timerGen uint64
}

func stateToFloat(s State) float64 {
	switch s {
	case StateEmpty:
		return 0
	case StateLoaded:
		return 1
	case StateCueing:
		return 2
	case StatePlaying:
		return 3
	case StateEnded:
		return 4
	default:
		return -1
	}
}
