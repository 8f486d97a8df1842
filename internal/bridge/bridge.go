// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package bridge wires one equipment source plugin to one deck manager
// it owns: it normalizes deck ids, synthesizes capabilities the plugin
// lacks, deduplicates noisy input, keeps the backend link warm with
// heartbeats, and reconnects the plugin after equipment drops.
package bridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuepointlabs/cuebridge/internal/deck"
	"github.com/cuepointlabs/cuebridge/internal/logging"
	"github.com/cuepointlabs/cuebridge/internal/metrics"
	"github.com/cuepointlabs/cuebridge/internal/plugin"
)

// ErrAlreadyRunning is returned by Start on a running bridge.
var ErrAlreadyRunning = errors.New("bridge already running")

// virtualDeck is where all events land for single-deck equipment.
const virtualDeck = "1"

// Sink receives the bridge's outbound signals. Implementations must be
// safe for concurrent use: live events can fire from timer callbacks
// while heartbeats tick on their own goroutine.
type Sink interface {
	TrackLive(deckID string, track deck.Track)
	NowPlayingCleared()
	Connection(connected bool, deviceName string)
	Heartbeat()
}

// Config tunes one bridge instance.
type Config struct {
	Deck deck.Config

	HeartbeatInterval time.Duration
	LogDedupWindow    time.Duration
	LogDedupMax       int
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	// OnLog, when set, receives each plugin log line that survives
	// deduplication. Used to mirror plugin chatter onto the
	// diagnostics feed.
	OnLog func(message string)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Deck:              deck.DefaultConfig(),
		HeartbeatInterval: 120 * time.Second,
		LogDedupWindow:    60 * time.Second,
		LogDedupMax:       200,
		ReconnectInitial:  2 * time.Second,
		ReconnectMax:      30 * time.Second,
	}
}

// Bridge owns the plugin-to-manager pipeline for one equipment source.
type Bridge struct {
	cfg  Config
	src  plugin.Source
	sink Sink

	mu            sync.Mutex
	running       bool
	mgr           *deck.Manager
	caps          plugin.Capabilities
	pluginCfg     plugin.Config
	stopCh        chan struct{}
	everConnected bool
	connected     bool
	deviceName    string
	reconnecting  bool
	unsubscribe   []func()
	recentLogs    map[string]time.Time

	wg sync.WaitGroup
}

// New creates a stopped bridge for the given source and sink.
func New(cfg Config, src plugin.Source, sink Sink) *Bridge {
	return &Bridge{cfg: cfg, src: src, sink: sink}
}

// Start builds the deck manager, wires its listeners, and starts the
// plugin. A plugin that fails to start leaves the bridge fully stopped.
func (b *Bridge) Start(pluginCfg plugin.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrAlreadyRunning
	}

	pluginID := b.src.Info().ID
	mgr := deck.NewManager(b.cfg.Deck)
	unsubLive := mgr.OnTrackLive(func(ev deck.Live) {
		metrics.TracksLiveTotal.WithLabelValues(pluginID).Inc()
		logging.Info().Str("plugin", pluginID).Str("deck", ev.DeckID).
			Str("artist", ev.Track.Artist).Str("title", ev.Track.Title).Msg("track live")
		b.sink.TrackLive(ev.DeckID, ev.Track)
	})
	unsubClear := mgr.OnNowPlayingCleared(func() {
		logging.Info().Str("plugin", pluginID).Msg("now playing cleared")
		b.sink.NowPlayingCleared()
	})

	if err := b.src.Start(pluginCfg); err != nil {
		unsubLive()
		unsubClear()
		mgr.Destroy()
		return fmt.Errorf("start plugin %s: %w", pluginID, err)
	}

	b.mgr = mgr
	b.caps = b.src.Capabilities()
	b.pluginCfg = pluginCfg
	b.stopCh = make(chan struct{})
	b.unsubscribe = []func(){unsubLive, unsubClear}
	b.recentLogs = make(map[string]time.Time)
	b.everConnected = false
	b.connected = false
	b.reconnecting = false
	b.running = true

	b.wg.Add(2)
	go b.consumeLoop(b.src.Events())
	go b.heartbeatLoop(b.stopCh)

	logging.Info().Str("plugin", pluginID).Msg("bridge started")
	return nil
}

// Stop cancels reconnect and heartbeat, stops the plugin, sends a final
// now-playing clear, and destroys the deck manager. Idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.stopCh)
	mgr := b.mgr
	unsub := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	if err := b.src.Stop(); err != nil {
		logging.Warn().Err(err).Msg("plugin stop")
	}
	b.wg.Wait()

	for _, fn := range unsub {
		fn()
	}
	// The backend clear must go out even if no track was live: the
	// bridge going away invalidates whatever the backend last saw.
	b.sink.NowPlayingCleared()
	mgr.Destroy()

	logging.Info().Str("plugin", b.src.Info().ID).Msg("bridge stopped")
	return nil
}

// Running reports whether the bridge is started.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Snapshots exposes the owned manager's deck table for diagnostics.
func (b *Bridge) Snapshots() []deck.Snapshot {
	b.mu.Lock()
	mgr := b.mgr
	b.mu.Unlock()
	if mgr == nil {
		return nil
	}
	return mgr.Snapshots()
}

// Connected reports the equipment link state and device name.
func (b *Bridge) Connected() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected, b.deviceName
}

// consumeLoop drains one plugin run's event channel. It exits when the
// plugin stops and closes the channel; a reconnect starts a new loop for
// the fresh channel.
func (b *Bridge) consumeLoop(events <-chan plugin.Event) {
	defer b.wg.Done()
	for ev := range events {
		b.handleEvent(ev)
	}
}

func (b *Bridge) handleEvent(ev plugin.Event) {
	switch e := ev.(type) {
	case plugin.TrackEvent:
		b.handleTrack(e)
	case plugin.PlayStateEvent:
		b.updateManager(func(m *deck.Manager) error {
			return m.UpdatePlayState(b.normalizeDeck(e.DeckID), e.Playing)
		})
	case plugin.FaderEvent:
		b.updateManager(func(m *deck.Manager) error {
			return m.UpdateFader(b.normalizeDeck(e.DeckID), e.Level)
		})
	case plugin.MasterDeckEvent:
		b.updateManager(func(m *deck.Manager) error {
			return m.SetMasterDeck(b.normalizeDeck(e.DeckID))
		})
	case plugin.ConnectionEvent:
		b.handleConnection(e)
	case plugin.ReadyEvent:
		logging.Debug().Str("plugin", b.src.Info().ID).Msg("plugin ready")
	case plugin.LogEvent:
		if b.shouldLog(e.Message) {
			logging.Info().Str("plugin", b.src.Info().ID).Msg(e.Message)
			if b.cfg.OnLog != nil {
				b.cfg.OnLog(e.Message)
			}
		}
	case plugin.ErrorEvent:
		logging.Warn().Err(e.Err).Str("plugin", b.src.Info().ID).Msg("plugin error")
	}
}

func (b *Bridge) handleTrack(e plugin.TrackEvent) {
	deckID := b.normalizeDeck(e.DeckID)

	b.mu.Lock()
	mgr := b.mgr
	caps := b.caps
	b.mu.Unlock()
	if mgr == nil {
		return
	}

	if e.Track != nil {
		// Equipment re-emits unchanged metadata on unrelated status
		// ticks; an identical load is noise.
		if cur := mgr.CurrentTrack(deckID); cur != nil && sameTrack(*cur, *e.Track) {
			return
		}
	}

	var t *deck.Track
	if e.Track != nil {
		t = &deck.Track{Title: e.Track.Title, Artist: e.Track.Artist, Album: e.Track.Album}
	}
	if err := mgr.UpdateTrack(deckID, t); err != nil {
		logging.Warn().Err(err).Str("deck", deckID).Msg("track update rejected")
		return
	}

	// Track-change-only equipment means the load is already audible.
	if t != nil && !caps.PlayState {
		if err := mgr.UpdatePlayState(deckID, true); err != nil {
			logging.Warn().Err(err).Str("deck", deckID).Msg("synthesized play state rejected")
		}
	}
}

func (b *Bridge) handleConnection(e plugin.ConnectionEvent) {
	pluginID := b.src.Info().ID

	b.mu.Lock()
	wasEverConnected := b.everConnected
	b.connected = e.Connected
	if e.Connected {
		b.everConnected = true
		b.deviceName = e.DeviceName
	}
	running := b.running
	shouldReconnect := !e.Connected && wasEverConnected && running && !b.reconnecting
	if shouldReconnect {
		b.reconnecting = true
	}
	b.mu.Unlock()

	if e.Connected {
		metrics.PluginConnected.WithLabelValues(pluginID).Set(1)
		logging.Info().Str("plugin", pluginID).Str("device", e.DeviceName).Msg("equipment connected")
	} else {
		metrics.PluginConnected.WithLabelValues(pluginID).Set(0)
		logging.Info().Str("plugin", pluginID).Msg("equipment disconnected")
	}
	b.sink.Connection(e.Connected, e.DeviceName)

	if shouldReconnect {
		b.wg.Add(1)
		go b.reconnectLoop()
	}
}

// reconnectLoop restarts the plugin with exponential backoff until a
// start succeeds or the bridge stops. Each successful restart gets a
// fresh consume loop for the plugin's new event channel.
func (b *Bridge) reconnectLoop() {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		b.reconnecting = false
		b.mu.Unlock()
	}()

	pluginID := b.src.Info().ID
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.ReconnectInitial
	bo.Multiplier = 2
	bo.MaxInterval = b.cfg.ReconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		select {
		case <-time.After(bo.NextBackOff()):
		case <-b.stopCh:
			return
		}

		b.mu.Lock()
		if !b.running {
			b.mu.Unlock()
			return
		}
		cfg := b.pluginCfg
		b.mu.Unlock()

		metrics.PluginReconnects.WithLabelValues(pluginID).Inc()
		logging.Info().Str("plugin", pluginID).Msg("attempting plugin reconnect")

		if err := b.src.Stop(); err != nil {
			logging.Warn().Err(err).Str("plugin", pluginID).Msg("plugin stop before reconnect")
		}
		if err := b.src.Start(cfg); err != nil {
			logging.Warn().Err(err).Str("plugin", pluginID).Msg("plugin reconnect failed")
			continue
		}

		// Stop may have run between the running check and the restart;
		// a plugin started after that must not outlive the bridge, and
		// a consume loop on its channel would never be released.
		b.mu.Lock()
		if !b.running {
			b.mu.Unlock()
			if err := b.src.Stop(); err != nil {
				logging.Warn().Err(err).Str("plugin", pluginID).Msg("plugin stop after late reconnect")
			}
			return
		}
		b.wg.Add(1)
		b.mu.Unlock()

		go b.consumeLoop(b.src.Events())
		logging.Info().Str("plugin", pluginID).Msg("plugin reconnected")
		return
	}
}

func (b *Bridge) heartbeatLoop(stop <-chan struct{}) {
	defer b.wg.Done()
	interval := b.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultConfig().HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			connected := b.connected
			b.mu.Unlock()
			if connected {
				metrics.HeartbeatsTotal.Inc()
				b.sink.Heartbeat()
			}
		}
	}
}

func (b *Bridge) normalizeDeck(deckID string) string {
	if !b.caps.MultiDeck || deckID == "" {
		return virtualDeck
	}
	return deckID
}

func (b *Bridge) updateManager(fn func(*deck.Manager) error) {
	b.mu.Lock()
	mgr := b.mgr
	b.mu.Unlock()
	if mgr == nil {
		return
	}
	if err := fn(mgr); err != nil && !errors.Is(err, deck.ErrDestroyed) {
		logging.Warn().Err(err).Msg("deck update rejected")
	}
}

// shouldLog suppresses a message repeated within the dedup window. The
// table is pruned of expired entries once it exceeds the size bound.
func (b *Bridge) shouldLog(msg string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if len(b.recentLogs) > b.cfg.LogDedupMax {
		for k, at := range b.recentLogs {
			if now.Sub(at) >= b.cfg.LogDedupWindow {
				delete(b.recentLogs, k)
			}
		}
	}
	if at, ok := b.recentLogs[msg]; ok && now.Sub(at) < b.cfg.LogDedupWindow {
		return false
	}
	b.recentLogs[msg] = now
	return true
}

func sameTrack(a deck.Track, b plugin.Track) bool {
	return strings.EqualFold(strings.TrimSpace(a.Title), strings.TrimSpace(b.Title)) &&
		strings.EqualFold(strings.TrimSpace(a.Artist), strings.TrimSpace(b.Artist))
}
