// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuepointlabs/cuebridge/internal/deck"
	"github.com/cuepointlabs/cuebridge/internal/plugin"
)

// fakeSource is a scriptable equipment plugin.
type fakeSource struct {
	mu         sync.Mutex
	running    bool
	caps       plugin.Capabilities
	startErr   error
	startCount int
	emitter    plugin.Emitter

	// When set, any restart (second and later Start) signals
	// startWaiting and then blocks until startGate is closed.
	startGate    chan struct{}
	startWaiting chan struct{}
}

func (f *fakeSource) Info() plugin.Info {
	return plugin.Info{ID: "fake", Name: "Fake Equipment"}
}

func (f *fakeSource) Capabilities() plugin.Capabilities { return f.caps }

func (f *fakeSource) ConfigOptions() []plugin.ConfigOption { return nil }

func (f *fakeSource) Start(cfg plugin.Config) error {
	f.mu.Lock()
	gate := f.startGate
	restarting := f.startCount > 0
	f.mu.Unlock()
	if restarting && gate != nil {
		f.startWaiting <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.running {
		return plugin.ErrAlreadyRunning
	}
	f.emitter.Open(16)
	f.running = true
	f.startCount++
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.mu.Unlock()
	f.emitter.Interrupt()
	f.emitter.Close()
	return nil
}

func (f *fakeSource) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSource) Events() <-chan plugin.Event { return f.emitter.Events() }

func (f *fakeSource) emit(ev plugin.Event) { f.emitter.Emit(ev) }

func (f *fakeSource) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCount
}

// recordingSink collects bridge output.
type recordingSink struct {
	mu          sync.Mutex
	live        chan deck.Live
	cleared     int
	connections chan bool
	heartbeats  chan struct{}
}

func newSink() *recordingSink {
	return &recordingSink{
		live:        make(chan deck.Live, 16),
		connections: make(chan bool, 16),
		heartbeats:  make(chan struct{}, 16),
	}
}

func (s *recordingSink) TrackLive(deckID string, track deck.Track) {
	s.live <- deck.Live{DeckID: deckID, Track: track}
}

func (s *recordingSink) NowPlayingCleared() {
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
}

func (s *recordingSink) clearedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

func (s *recordingSink) Connection(connected bool, deviceName string) {
	s.connections <- connected
}

func (s *recordingSink) Heartbeat() { s.heartbeats <- struct{}{} }

func testBridgeConfig() Config {
	cfg := DefaultConfig()
	cfg.Deck.LiveThreshold = 40 * time.Millisecond
	cfg.Deck.PauseGrace = 60 * time.Millisecond
	cfg.Deck.NowPlayingPause = 40 * time.Millisecond
	cfg.HeartbeatInterval = 30 * time.Millisecond
	cfg.ReconnectInitial = 20 * time.Millisecond
	cfg.ReconnectMax = 100 * time.Millisecond
	return cfg
}

func waitLive(t *testing.T, s *recordingSink, timeout time.Duration) deck.Live {
	t.Helper()
	select {
	case ev := <-s.live:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for live track")
		return deck.Live{}
	}
}

func TestStartFailureLeavesBridgeStopped(t *testing.T) {
	src := &fakeSource{startErr: errors.New("device not found")}
	b := New(testBridgeConfig(), src, newSink())

	if err := b.Start(nil); err == nil {
		t.Fatal("expected start to fail")
	}
	if b.Running() {
		t.Error("expected bridge stopped after plugin start failure")
	}

	// A retry must hit the plugin again, not an already-running guard.
	err := b.Start(nil)
	if errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected plugin error on retry, got %v", err)
	}
}

func TestDoubleStartRejected(t *testing.T) {
	src := &fakeSource{}
	b := New(testBridgeConfig(), src, newSink())
	if err := b.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	if err := b.Start(nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestSingleDeckNormalizationAndPlayStateSynthesis(t *testing.T) {
	// No multi-deck and no play state: a bare track event must land on
	// the virtual deck and count as playing immediately.
	src := &fakeSource{caps: plugin.Capabilities{}}
	sink := newSink()
	b := New(testBridgeConfig(), src, sink)
	if err := b.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	src.emit(plugin.TrackEvent{DeckID: "7", Track: &plugin.Track{Title: "T", Artist: "A"}})

	ev := waitLive(t, sink, time.Second)
	if ev.DeckID != "1" {
		t.Errorf("expected virtual deck 1, got %s", ev.DeckID)
	}
	if ev.Track.Title != "T" {
		t.Errorf("unexpected track: %+v", ev.Track)
	}
}

func TestNoSynthesisForPlayStateCapablePlugin(t *testing.T) {
	src := &fakeSource{caps: plugin.Capabilities{MultiDeck: true, PlayState: true}}
	sink := newSink()
	b := New(testBridgeConfig(), src, sink)
	if err := b.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	// Loading without playing must not go live.
	src.emit(plugin.TrackEvent{DeckID: "2", Track: &plugin.Track{Title: "T", Artist: "A"}})
	select {
	case ev := <-sink.live:
		t.Fatalf("unexpected live event: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}

	src.emit(plugin.PlayStateEvent{DeckID: "2", Playing: true})
	ev := waitLive(t, sink, time.Second)
	if ev.DeckID != "2" {
		t.Errorf("expected deck 2, got %s", ev.DeckID)
	}
}

func TestDuplicateTrackEventsIgnored(t *testing.T) {
	src := &fakeSource{caps: plugin.Capabilities{}}
	sink := newSink()
	b := New(testBridgeConfig(), src, sink)
	if err := b.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	src.emit(plugin.TrackEvent{DeckID: "1", Track: &plugin.Track{Title: "Same", Artist: "One"}})
	waitLive(t, sink, time.Second)

	// Re-emitting identical metadata (modulo case and whitespace) must
	// not restart the liveness cycle.
	src.emit(plugin.TrackEvent{DeckID: "1", Track: &plugin.Track{Title: " SAME ", Artist: "one"}})
	select {
	case ev := <-sink.live:
		t.Fatalf("unexpected second live event: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConnectionForwardingAndHeartbeat(t *testing.T) {
	src := &fakeSource{}
	sink := newSink()
	b := New(testBridgeConfig(), src, sink)
	if err := b.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	src.emit(plugin.ConnectionEvent{Connected: true, DeviceName: "CDJ"})
	select {
	case connected := <-sink.connections:
		if !connected {
			t.Error("expected connected=true")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection signal")
	}

	// Heartbeats only tick while connected.
	select {
	case <-sink.heartbeats:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat")
	}
}

func TestAutoReconnectAfterDisconnect(t *testing.T) {
	src := &fakeSource{}
	sink := newSink()
	b := New(testBridgeConfig(), src, sink)
	if err := b.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	src.emit(plugin.ConnectionEvent{Connected: true, DeviceName: "CDJ"})
	<-sink.connections
	src.emit(plugin.ConnectionEvent{Connected: false})
	<-sink.connections

	// The bridge stops and restarts the plugin with backoff.
	deadline := time.After(3 * time.Second)
	for src.starts() < 2 {
		select {
		case <-deadline:
			t.Fatal("plugin was not restarted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The new run's events flow through the bridge.
	src.emit(plugin.ConnectionEvent{Connected: true, DeviceName: "CDJ"})
	select {
	case connected := <-sink.connections:
		if !connected {
			t.Error("expected reconnect signal")
		}
	case <-time.After(time.Second):
		t.Fatal("events from restarted plugin not consumed")
	}
}

func TestStopDuringReconnectLeavesPluginStopped(t *testing.T) {
	src := &fakeSource{
		startGate:    make(chan struct{}),
		startWaiting: make(chan struct{}, 1),
	}
	sink := newSink()
	b := New(testBridgeConfig(), src, sink)
	if err := b.Start(nil); err != nil {
		t.Fatal(err)
	}

	src.emit(plugin.ConnectionEvent{Connected: true, DeviceName: "CDJ"})
	<-sink.connections
	src.emit(plugin.ConnectionEvent{Connected: false})
	<-sink.connections

	// Hold the reconnect attempt inside the plugin's Start call.
	select {
	case <-src.startWaiting:
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect never reached the plugin")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- b.Stop() }()

	// Give Stop time to stop the plugin and settle into its wait, then
	// let the in-flight restart win the race.
	time.Sleep(50 * time.Millisecond)
	close(src.startGate)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung behind a reconnect-restarted plugin")
	}
	if src.Running() {
		t.Error("expected plugin stopped after bridge stop")
	}
}

func TestStopSendsFinalClearAndIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	sink := newSink()
	b := New(testBridgeConfig(), src, sink)
	if err := b.Start(nil); err != nil {
		t.Fatal(err)
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sink.clearedCount(); got < 1 {
		t.Error("expected a final now-playing clear on stop")
	}
	if src.Running() {
		t.Error("expected plugin stopped")
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
