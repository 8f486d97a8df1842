// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package report

import (
	"context"
	"sync"

	"github.com/cuepointlabs/cuebridge/internal/deck"
	"github.com/cuepointlabs/cuebridge/internal/logging"
)

// BackendSink adapts the Reporter to the bridge's sink contract. Bridge
// callbacks fire from timer goroutines and must not block on the
// network, so every report is queued to a single worker; the queue keeps
// posts in arrival order for the replay buffer's FIFO guarantee.
type BackendSink struct {
	rep  *Reporter
	jobs chan func(context.Context)

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	connected bool
	device    string
	closed    bool
}

// NewBackendSink starts the sink's delivery worker.
func NewBackendSink(rep *Reporter) *BackendSink {
	ctx, cancel := context.WithCancel(context.Background())
	s := &BackendSink{
		rep:    rep,
		jobs:   make(chan func(context.Context), 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		for fn := range s.jobs {
			fn(ctx)
		}
	}()
	return s
}

// Close stops the worker after draining queued reports. The final
// now-playing clear arrives through the queue during shutdown, so the
// drain completes before the context is cancelled; each request is
// already bounded by its own timeout.
func (s *BackendSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.jobs)
	<-s.done
	s.cancel()
}

func (s *BackendSink) submit(fn func(context.Context)) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.jobs <- fn:
	default:
		logging.Warn().Msg("report queue full, dropping report")
	}
}

func (s *BackendSink) TrackLive(deckID string, track deck.Track) {
	s.submit(func(ctx context.Context) {
		s.rep.TrackLive(ctx, deckID, track)
	})
}

func (s *BackendSink) NowPlayingCleared() {
	s.submit(func(ctx context.Context) {
		s.rep.ClearNowPlaying(ctx)
	})
}

func (s *BackendSink) Connection(connected bool, deviceName string) {
	s.mu.Lock()
	s.connected = connected
	if connected {
		s.device = deviceName
	}
	s.mu.Unlock()
	s.submit(func(ctx context.Context) {
		s.rep.Status(ctx, connected, deviceName)
	})
}

// Heartbeat refreshes the backend's liveness timestamp by re-posting
// the current link status.
func (s *BackendSink) Heartbeat() {
	s.mu.Lock()
	connected, device := s.connected, s.device
	s.mu.Unlock()
	s.submit(func(ctx context.Context) {
		s.rep.Status(ctx, connected, device)
	})
}

// LogSink satisfies the bridge sink contract when no backend is
// configured: signals land in the log and nowhere else.
type LogSink struct{}

func (LogSink) TrackLive(deckID string, track deck.Track) {
	logging.Info().Str("deck", deckID).Str("artist", track.Artist).Str("title", track.Title).Msg("now playing")
}

func (LogSink) NowPlayingCleared() {
	logging.Info().Msg("now playing cleared")
}

func (LogSink) Connection(connected bool, deviceName string) {
	logging.Info().Bool("connected", connected).Str("device", deviceName).Msg("equipment link")
}

func (LogSink) Heartbeat() {}
