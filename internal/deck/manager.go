// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package deck implements the per-deck track-liveness state machine.
//
// Each deck moves through EMPTY -> LOADED -> CUEING -> PLAYING -> ENDED
// as tracks load, play, and pause. A track is reported live exactly once
// per load, after LiveThreshold of (possibly briefly interrupted) play,
// gated on fader level, master-deck status, and a single manager-wide
// "now playing" priority pointer. Priority hands off deterministically to
// the lowest-numbered eligible deck when the holder unloads, ends, or
// stays paused/faded beyond NowPlayingPause.
package deck

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cuepointlabs/cuebridge/internal/logging"
	"github.com/cuepointlabs/cuebridge/internal/metrics"
)

// Manager owns the deck table and the single now-playing priority
// pointer. All mutation happens under one mutex; listener callbacks are
// dispatched outside the lock so they may safely query the manager.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	decks map[string]*deckState

	// nowPlayingID is the deck currently authoritative for external
	// reporting, or empty.
	nowPlayingID string

	// switchTimer hands priority off when the priority deck stays
	// paused or faded out. switchGen invalidates stale callbacks.
	switchTimer *time.Timer
	switchGen   uint64

	destroyed bool

	nextSub   int
	liveSubs  map[int]func(Live)
	clearSubs map[int]func()

	// pending holds listener dispatches accumulated under the lock,
	// flushed by the public entry point after unlock.
	pending []func()
}

// NewManager creates a manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.LiveThreshold <= 0 {
		cfg.LiveThreshold = DefaultConfig().LiveThreshold
	}
	return &Manager{
		cfg:       cfg,
		decks:     make(map[string]*deckState),
		liveSubs:  make(map[int]func(Live)),
		clearSubs: make(map[int]func()),
	}
}

// OnTrackLive registers a listener for live-track events. The returned
// function deregisters it.
func (m *Manager) OnTrackLive(fn func(Live)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.liveSubs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.liveSubs, id)
	}
}

// OnNowPlayingCleared registers a listener for the signal that no deck
// is eligible for now-playing anymore.
func (m *Manager) OnNowPlayingCleared(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.clearSubs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.clearSubs, id)
	}
}

// UpdateTrack records a track load (track != nil) or unload (track ==
// nil) on a deck. Play timing and the reported flag reset; fader level
// and master status are equipment state and survive. If the deck held
// now-playing priority, priority is released and other decks are
// rescanned.
func (m *Manager) UpdateTrack(deckID string, track *Track) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	d, err := m.getOrCreateLocked(deckID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	m.clearDeckTimerLocked(d)

	if track == nil {
		d.state = StateEmpty
		d.track = nil
	} else {
		t := *track
		d.state = StateLoaded
		d.track = &t
	}
	d.playing = false
	d.playStart = time.Time{}
	d.accumulated = 0
	d.lastPause = time.Time{}
	d.reported = false

	if m.nowPlayingID == deckID {
		m.releaseAndRescanLocked(deckID)
	}
	m.syncDeckMetricLocked(deckID, d)
	m.mu.Unlock()
	m.flush()
	return nil
}

// UpdatePlayState records a play/pause signal. No-op when the deck is
// empty or already in the requested state.
func (m *Manager) UpdatePlayState(deckID string, playing bool) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	d, err := m.getOrCreateLocked(deckID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if d.state == StateEmpty || d.playing == playing {
		m.mu.Unlock()
		return nil
	}

	now := time.Now()
	if playing {
		// A pause longer than the grace period discards progress
		// toward the liveness threshold.
		if !d.lastPause.IsZero() && now.Sub(d.lastPause) > m.cfg.PauseGrace {
			d.accumulated = 0
		}
		d.playing = true
		d.playStart = now

		if d.state == StatePlaying || d.state == StateEnded {
			// Resume within grace, or revival of an ended deck:
			// already past the threshold for this load.
			d.state = StatePlaying
			m.clearDeckTimerLocked(d)
			if m.nowPlayingID == deckID {
				m.cancelSwitchLocked()
			}
		} else {
			d.state = StateCueing
			wait := m.cfg.LiveThreshold - d.accumulated
			if wait < 0 {
				wait = 0
			}
			m.armDeckTimerLocked(deckID, d, wait, m.onThresholdReached)
		}
	} else {
		if !d.playStart.IsZero() {
			d.accumulated += now.Sub(d.playStart)
		}
		d.playing = false
		d.playStart = time.Time{}
		d.lastPause = now

		switch d.state {
		case StatePlaying:
			// Stay in PLAYING until the grace period decides this
			// track actually ended.
			m.armDeckTimerLocked(deckID, d, m.cfg.PauseGrace, m.onGracePeriodExpired)
			if m.nowPlayingID == deckID {
				m.armSwitchLocked()
			}
		case StateCueing:
			m.clearDeckTimerLocked(d)
			d.state = StateLoaded
		}
	}

	m.syncDeckMetricLocked(deckID, d)
	m.mu.Unlock()
	m.flush()
	return nil
}

// UpdateFader records a channel fader level, clamped to [0,1]. A fader
// rising from zero on a playing deck retries the pending report; the
// priority deck fading to zero arms the now-playing switch timer.
func (m *Manager) UpdateFader(deckID string, level float64) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	d, err := m.getOrCreateLocked(deckID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	prev := d.fader
	d.fader = level

	if d.state == StatePlaying && prev == 0 && level > 0 {
		m.checkAndReportLocked(deckID, d)
	}
	if m.nowPlayingID == deckID {
		if level == 0 && prev > 0 {
			m.armSwitchLocked()
		} else if level > 0 && prev == 0 {
			m.cancelSwitchLocked()
		}
	}
	m.mu.Unlock()
	m.flush()
	return nil
}

// SetMasterDeck marks the given deck as master and clears the flag on
// every other deck. At most one deck is master at any instant.
func (m *Manager) SetMasterDeck(deckID string) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	d, err := m.getOrCreateLocked(deckID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	was := d.master
	for _, other := range m.decks {
		other.master = false
	}
	d.master = true

	if d.state == StatePlaying && !was {
		m.checkAndReportLocked(deckID, d)
	}
	m.mu.Unlock()
	m.flush()
	return nil
}

// ShouldReport mirrors the report gating predicate without side effects,
// for diagnostics.
func (m *Manager) ShouldReport(deckID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return false
	}
	d, ok := m.decks[deckID]
	if !ok {
		return false
	}
	return m.reportAllowedLocked(deckID, d)
}

// CurrentTrack returns a copy of the deck's loaded track, or nil.
func (m *Manager) CurrentTrack(deckID string) *Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decks[deckID]
	if !ok || d.track == nil {
		return nil
	}
	t := *d.track
	return &t
}

// NowPlayingDeck returns the deck id currently holding now-playing
// priority, or empty.
func (m *Manager) NowPlayingDeck() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowPlayingID
}

// DeckState returns the deck's current state, or StateEmpty for an
// unknown deck id.
func (m *Manager) DeckState(deckID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decks[deckID]
	if !ok {
		return StateEmpty
	}
	return d.state
}

// Snapshots returns a view of every deck, sorted by deck id.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.decks))
	for _, id := range m.sortedIDsLocked() {
		d := m.decks[id]
		s := Snapshot{
			DeckID:   id,
			State:    d.state,
			Playing:  d.playing,
			Fader:    d.fader,
			Master:   d.master,
			Reported: d.reported,
		}
		if d.track != nil {
			t := *d.track
			s.Track = &t
		}
		out = append(out, s)
	}
	return out
}

// Destroy cancels every pending timer and detaches all listeners. The
// manager must not be used afterwards; a destroyed manager fires no
// further callbacks.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.destroyed = true
	for id, d := range m.decks {
		m.clearDeckTimerLocked(d)
		metrics.DeckState.DeleteLabelValues(id)
	}
	m.cancelSwitchLocked()
	m.liveSubs = nil
	m.clearSubs = nil
	m.pending = nil
}

// --- internals (all *Locked methods require m.mu held) ---

func (m *Manager) getOrCreateLocked(deckID string) (*deckState, error) {
	if d, ok := m.decks[deckID]; ok {
		return d, nil
	}
	if len(m.decks) >= MaxDecks {
		if err := m.evictOneLocked(); err != nil {
			return nil, err
		}
	}
	// Fader defaults to fully open for equipment without fader telemetry.
	d := &deckState{state: StateEmpty, fader: 1.0}
	m.decks[deckID] = d
	m.syncDeckMetricLocked(deckID, d)
	return d, nil
}

// evictOneLocked frees one slot, preferring EMPTY then ENDED decks in
// deterministic id order. Active decks are never evicted.
func (m *Manager) evictOneLocked() error {
	ids := m.sortedIDsLocked()
	for _, want := range []State{StateEmpty, StateEnded} {
		for _, id := range ids {
			d := m.decks[id]
			if d.state != want {
				continue
			}
			m.clearDeckTimerLocked(d)
			delete(m.decks, id)
			if m.nowPlayingID == id {
				m.nowPlayingID = ""
			}
			metrics.DeckState.DeleteLabelValues(id)
			metrics.DeckEvictions.Inc()
			logging.Debug().Str("deck", id).Str("state", string(want)).Msg("evicted deck to admit new id")
			return nil
		}
	}
	return ErrDeckLimit
}

// sortedIDsLocked orders deck ids numerically ascending, with
// non-numeric ids after all numeric ones. The deterministic order makes
// now-playing handoff reproducible: lowest id wins ties.
func (m *Manager) sortedIDsLocked() []string {
	ids := make([]string, 0, len(m.decks))
	for id := range m.decks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.Atoi(ids[i])
		b, berr := strconv.Atoi(ids[j])
		switch {
		case aerr == nil && berr == nil:
			return a < b
		case aerr == nil:
			return true
		case berr == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
	return ids
}

func (m *Manager) armDeckTimerLocked(deckID string, d *deckState, wait time.Duration, fire func(string, uint64)) {
	d.timerGen++
	gen := d.timerGen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(wait, func() { fire(deckID, gen) })
}

func (m *Manager) clearDeckTimerLocked(d *deckState) {
	d.timerGen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (m *Manager) armSwitchLocked() {
	m.switchGen++
	gen := m.switchGen
	if m.switchTimer != nil {
		m.switchTimer.Stop()
	}
	m.switchTimer = time.AfterFunc(m.cfg.NowPlayingPause, func() { m.onSwitchExpired(gen) })
}

func (m *Manager) cancelSwitchLocked() {
	m.switchGen++
	if m.switchTimer != nil {
		m.switchTimer.Stop()
		m.switchTimer = nil
	}
}

// onThresholdReached fires when a cueing deck has played long enough.
// The generation guard makes a stale callback a no-op: cancellation and
// firing can race during transitions and shutdown.
func (m *Manager) onThresholdReached(deckID string, gen uint64) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	d, ok := m.decks[deckID]
	if !ok || d.timerGen != gen {
		m.mu.Unlock()
		return
	}
	if d.state == StateCueing && d.playing {
		d.state = StatePlaying
		m.syncDeckMetricLocked(deckID, d)
		m.checkAndReportLocked(deckID, d)
	}
	m.mu.Unlock()
	m.flush()
}

// onGracePeriodExpired fires when a playing deck has stayed paused past
// the grace period: the track is considered ended.
func (m *Manager) onGracePeriodExpired(deckID string, gen uint64) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	d, ok := m.decks[deckID]
	if !ok || d.timerGen != gen {
		m.mu.Unlock()
		return
	}
	if d.state == StatePlaying && !d.playing {
		d.state = StateEnded
		m.syncDeckMetricLocked(deckID, d)
		if m.nowPlayingID == deckID {
			m.releaseAndRescanLocked(deckID)
		}
	}
	m.mu.Unlock()
	m.flush()
}

// onSwitchExpired fires when the priority deck has stayed paused or
// faded out past NowPlayingPause. If it recovered in the meantime the
// callback does nothing.
func (m *Manager) onSwitchExpired(gen uint64) {
	m.mu.Lock()
	if m.destroyed || m.switchGen != gen || m.nowPlayingID == "" {
		m.mu.Unlock()
		return
	}
	deckID := m.nowPlayingID
	d, ok := m.decks[deckID]
	if ok && d.playing && (d.fader > 0 || !m.cfg.FaderDetection) {
		m.mu.Unlock()
		return
	}
	m.releaseAndRescanLocked(deckID)
	m.mu.Unlock()
	m.flush()
}

// reportAllowedLocked is the report gating predicate shared by
// checkAndReportLocked, the handoff scan, and ShouldReport.
func (m *Manager) reportAllowedLocked(deckID string, d *deckState) bool {
	if d.state != StatePlaying || d.reported || d.track == nil {
		return false
	}
	if m.cfg.FaderDetection && d.fader <= 0 {
		return false
	}
	if m.cfg.MasterPriority && !d.master && m.anyMasterLocked() {
		return false
	}
	if m.nowPlayingID != "" && m.nowPlayingID != deckID {
		if cur, ok := m.decks[m.nowPlayingID]; ok && (cur.playing || cur.state == StatePlaying) {
			return false
		}
	}
	return true
}

func (m *Manager) anyMasterLocked() bool {
	for _, d := range m.decks {
		if d.master {
			return true
		}
	}
	return false
}

// checkAndReportLocked fires the live-track event when all gating
// conditions hold, taking now-playing priority for the deck.
func (m *Manager) checkAndReportLocked(deckID string, d *deckState) {
	if !m.reportAllowedLocked(deckID, d) {
		return
	}
	d.reported = true
	m.cancelSwitchLocked()
	m.nowPlayingID = deckID
	m.emitLiveLocked(deckID, *d.track)
}

// releaseAndRescanLocked drops now-playing priority and hands it to the
// first eligible deck in deterministic id order, skipping the deck that
// just lost it. With no candidate, the cleared signal is emitted.
func (m *Manager) releaseAndRescanLocked(excludeID string) {
	m.nowPlayingID = ""
	m.cancelSwitchLocked()

	for _, id := range m.sortedIDsLocked() {
		if id == excludeID {
			continue
		}
		d := m.decks[id]
		if !m.reportAllowedLocked(id, d) {
			continue
		}
		d.reported = true
		m.nowPlayingID = id
		logging.Debug().Str("from", excludeID).Str("to", id).Msg("now-playing priority handoff")
		m.emitLiveLocked(id, *d.track)
		return
	}
	m.emitClearedLocked()
}

func (m *Manager) emitLiveLocked(deckID string, track Track) {
	subs := make([]func(Live), 0, len(m.liveSubs))
	for _, fn := range m.liveSubs {
		subs = append(subs, fn)
	}
	ev := Live{DeckID: deckID, Track: track}
	m.pending = append(m.pending, func() {
		for _, fn := range subs {
			fn(ev)
		}
	})
}

func (m *Manager) emitClearedLocked() {
	subs := make([]func(), 0, len(m.clearSubs))
	for _, fn := range m.clearSubs {
		subs = append(subs, fn)
	}
	m.pending = append(m.pending, func() {
		for _, fn := range subs {
			fn()
		}
	})
}

func (m *Manager) syncDeckMetricLocked(deckID string, d *deckState) {
	metrics.DeckState.WithLabelValues(deckID).Set(stateToFloat(d.state))
}

// flush dispatches listener callbacks accumulated under the lock.
// Callbacks run outside the lock so they may query the manager.
func (m *Manager) flush() {
	m.mu.Lock()
	pend := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range pend {
		fn()
	}
}
