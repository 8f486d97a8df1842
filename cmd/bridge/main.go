// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package main is the entry point for the Cuebridge daemon.
//
// Cuebridge watches DJ equipment (Serato session files, Icecast source
// streams) and reports the track that is actually live to the audience
// to an event backend, filtering out cueing, previewing, and scratching
// via a per-deck liveness state machine.
//
// Startup order:
//
//  1. Configuration: defaults, optional YAML file, environment (Koanf v2)
//  2. Reporting: backend reporter behind a circuit breaker (optional)
//  3. Bridges: one per enabled equipment plugin
//  4. Diagnostics: health, status, metrics, and a websocket event feed
//  5. Supervision tree: everything runs under suture with restart backoff
//
// Shutdown on SIGINT/SIGTERM stops the bridges (sending an authoritative
// now-playing clear to the backend), then the diagnostics server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cuepointlabs/cuebridge/internal/bridge"
	"github.com/cuepointlabs/cuebridge/internal/config"
	"github.com/cuepointlabs/cuebridge/internal/deck"
	"github.com/cuepointlabs/cuebridge/internal/diag"
	"github.com/cuepointlabs/cuebridge/internal/logging"
	"github.com/cuepointlabs/cuebridge/internal/plugin"
	"github.com/cuepointlabs/cuebridge/internal/plugin/icecast"
	"github.com/cuepointlabs/cuebridge/internal/plugin/serato"
	"github.com/cuepointlabs/cuebridge/internal/report"
	"github.com/cuepointlabs/cuebridge/internal/supervisor"
)

// version is stamped at build time via -ldflags.
var version = "dev"

type bridgeRef struct {
	name string
	b    *bridge.Bridge
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Str("version", version).Msg("Starting Cuebridge")
	logging.Info().
		Bool("backend", cfg.Backend.Enabled).
		Bool("serato", cfg.Serato.Enabled).
		Bool("icecast", cfg.Icecast.Enabled).
		Msg("Configuration loaded")

	if !cfg.Serato.Enabled && !cfg.Icecast.Enabled {
		logging.Fatal().Msg("No equipment plugin enabled; set SERATO_ENABLED or ICECAST_ENABLED")
	}

	// Reporting layer. Without a backend, signals only reach the log
	// and the diagnostics feed.
	var (
		sink     bridge.Sink
		reporter *report.Reporter
		backSink *report.BackendSink
	)
	if cfg.Backend.Enabled {
		reporter, err = report.NewReporter(report.Config{
			URL:       cfg.Backend.URL,
			APIKey:    cfg.Backend.APIKey,
			EventCode: cfg.Backend.EventCode,
		}, report.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize backend reporter")
		}
		backSink = report.NewBackendSink(reporter)
		defer backSink.Close()
		sink = backSink
		logging.Info().Str("url", cfg.Backend.URL).Msg("Backend reporting enabled")
	} else {
		sink = report.LogSink{}
		logging.Info().Msg("Backend reporting disabled, logging signals only")
	}

	hub := diag.NewHub()
	sink = &feedSink{next: sink, hub: hub}

	instanceID := uuid.NewString()
	if reporter != nil {
		instanceID = reporter.InstanceID()
	}

	bridgeCfg := bridge.Config{
		Deck: deck.Config{
			LiveThreshold:   cfg.Deck.LiveThreshold,
			PauseGrace:      cfg.Deck.PauseGrace,
			NowPlayingPause: cfg.Deck.NowPlayingPause,
			FaderDetection:  cfg.Deck.FaderDetection,
			MasterPriority:  cfg.Deck.MasterPriority,
		},
		HeartbeatInterval: cfg.Bridge.Heartbeat,
		LogDedupWindow:    cfg.Bridge.LogDedupWindow,
		LogDedupMax:       cfg.Bridge.LogDedupMax,
		ReconnectInitial:  cfg.Bridge.ReconnectInitial,
		ReconnectMax:      cfg.Bridge.ReconnectMax,
		OnLog: func(message string) {
			hub.Broadcast(diag.MessageTypeLog, map[string]string{"message": message})
		},
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	var bridges []bridgeRef
	if cfg.Serato.Enabled {
		seratoPath := cfg.Serato.Path
		if seratoPath == "" {
			seratoPath = config.DefaultSeratoPath()
		}
		b := bridge.New(bridgeCfg, serato.New(), sink)
		tree.AddBridgeService(supervisor.NewBridgeService("serato-bridge", b, plugin.Config{
			"seratoPath":   seratoPath,
			"pollInterval": int(cfg.Serato.PollInterval / time.Millisecond),
		}))
		bridges = append(bridges, bridgeRef{name: "serato", b: b})
		logging.Info().Str("path", seratoPath).Msg("Serato session adapter enabled")
	}
	if cfg.Icecast.Enabled {
		b := bridge.New(bridgeCfg, icecast.New(), sink)
		tree.AddBridgeService(supervisor.NewBridgeService("icecast-bridge", b, plugin.Config{
			"port": cfg.Icecast.Port,
		}))
		bridges = append(bridges, bridgeRef{name: "icecast", b: b})
		logging.Info().Int("port", cfg.Icecast.Port).Msg("Icecast source adapter enabled")
	}

	startedAt := time.Now().UTC()
	status := func() diag.Status {
		s := diag.Status{
			Version:   version,
			Instance:  instanceID,
			StartedAt: startedAt,
			Uptime:    time.Since(startedAt).Round(time.Second).String(),
			Backend:   diag.BackendStatus{Enabled: cfg.Backend.Enabled},
			Consoles:  hub.ClientCount(),
		}
		if reporter != nil {
			s.Backend.Breaker = reporter.BreakerState()
			s.Backend.Buffered = reporter.BufferedCount()
		}
		for _, ref := range bridges {
			connected, device := ref.b.Connected()
			s.Bridges = append(s.Bridges, diag.BridgeStatus{
				Plugin:    ref.name,
				Running:   ref.b.Running(),
				Connected: connected,
				Device:    device,
				Decks:     ref.b.Snapshots(),
			})
		}
		return s
	}

	diagSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           diag.NewRouter(hub, status),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddDiagService(supervisor.NewHubService(hub))
	tree.AddDiagService(supervisor.NewHTTPService(diagSrv, 10*time.Second))
	logging.Info().Str("addr", diagSrv.Addr).Msg("Diagnostics server enabled")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && err != context.Canceled {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("Cuebridge stopped")
}

// feedSink mirrors every outbound signal onto the diagnostics websocket
// feed before passing it along.
type feedSink struct {
	next bridge.Sink
	hub  *diag.Hub
}

func (s *feedSink) TrackLive(deckID string, track deck.Track) {
	s.hub.Broadcast(diag.MessageTypeTrackLive, map[string]string{
		"deck":   deckID,
		"title":  track.Title,
		"artist": track.Artist,
		"album":  track.Album,
	})
	s.next.TrackLive(deckID, track)
}

func (s *feedSink) NowPlayingCleared() {
	s.hub.Broadcast(diag.MessageTypeNowPlayingCleared, nil)
	s.next.NowPlayingCleared()
}

func (s *feedSink) Connection(connected bool, deviceName string) {
	s.hub.Broadcast(diag.MessageTypeConnection, map[string]any{
		"connected": connected,
		"device":    deviceName,
	})
	s.next.Connection(connected, deviceName)
}

func (s *feedSink) Heartbeat() {
	s.next.Heartbeat()
}
