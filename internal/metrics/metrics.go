// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package metrics exposes Prometheus instrumentation for Cuebridge:
// deck liveness state, outbound report outcomes, circuit breaker state,
// and equipment plugin connectivity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Deck Metrics
	DeckState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cuebridge_deck_state",
			Help: "Current deck state (0=empty, 1=loaded, 2=cueing, 3=playing, 4=ended)",
		},
		[]string{"deck"},
	)

	TracksLiveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cuebridge_tracks_live_total",
			Help: "Total number of tracks that crossed the liveness threshold",
		},
		[]string{"plugin"},
	)

	DeckEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cuebridge_deck_evictions_total",
			Help: "Total number of deck slots evicted to make room for new deck ids",
		},
	)

	// Reporting Metrics
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cuebridge_reports_total",
			Help: "Total outbound backend reports by type and result",
		},
		[]string{"type", "result"}, // type: nowplaying|status|clear, result: success|failure|rejected
	)

	BufferedReports = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cuebridge_buffered_reports",
			Help: "Track reports currently buffered waiting for the circuit to reclose",
		},
	)

	HeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cuebridge_heartbeats_total",
			Help: "Total heartbeat signals emitted while a plugin was connected",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cuebridge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cuebridge_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Plugin Metrics
	PluginConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cuebridge_plugin_connected",
			Help: "Equipment plugin connection status (1=connected, 0=disconnected)",
		},
		[]string{"plugin"},
	)

	PluginReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cuebridge_plugin_reconnects_total",
			Help: "Total automatic plugin reconnect attempts",
		},
		[]string{"plugin"},
	)
)
