// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package report delivers now-playing and status events to the backend,
// shielded by a circuit breaker with a replay buffer for track posts
// that failed during an outage.
package report

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/cuepointlabs/cuebridge/internal/logging"
	"github.com/cuepointlabs/cuebridge/internal/metrics"
)

// ErrCircuitOpen is returned when the breaker rejects a request outright.
var ErrCircuitOpen = errors.New("backend circuit open")

// BreakerConfig tunes the backend circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit from closed.
	FailureThreshold uint32

	// Cooldown is how long the circuit stays open before allowing a
	// single half-open probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, Cooldown: 60 * time.Second}
}

// Breaker wraps the backend calls. Closed passes everything through,
// open rejects until the cooldown elapses, half-open admits exactly one
// probe: a successful probe recloses the circuit, a failed one reopens
// it and restarts the cooldown.
type Breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker[struct{}]
	onClose func()
}

// NewBreaker creates a closed breaker. onClose fires (on its own
// goroutine) whenever the circuit returns to closed after an outage, so
// the caller can replay buffered work; it may be nil.
func NewBreaker(name string, cfg BreakerConfig, onClose func()) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}

	b := &Breaker{name: name, onClose: onClose}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(gobreaker.StateClosed))

	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			// The hook must not run under the breaker's internal lock:
			// replay re-enters Do.
			if to == gobreaker.StateClosed && from != gobreaker.StateClosed && b.onClose != nil {
				go b.onClose()
			}
		},
	})
	return b
}

// Do runs fn through the breaker. A rejected request returns
// ErrCircuitOpen without invoking fn.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the breaker state as a string for diagnostics.
func (b *Breaker) State() string {
	return stateToString(b.cb.State())
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
