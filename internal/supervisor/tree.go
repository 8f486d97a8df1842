// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package supervisor builds the supervision tree that keeps the bridges
// and the diagnostics server running: a crashed component is restarted
// with backoff instead of taking the daemon down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervision parameters; zero values take defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig matches suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is a two-layer supervision hierarchy: equipment bridges in one
// layer, the diagnostics surface in the other, so a crashing plugin
// cannot take the operator console with it.
type Tree struct {
	root    *suture.Supervisor
	bridges *suture.Supervisor
	diag    *suture.Supervisor
}

// NewTree builds the tree with supervision events logged through the
// given logger.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	hook := (&sutureslog.Handler{Logger: logger}).MustHook()
	rootSpec := suture.Spec{
		EventHook:        hook,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	t := &Tree{
		root:    suture.New("cuebridge", rootSpec),
		bridges: suture.New("bridge-layer", childSpec),
		diag:    suture.New("diag-layer", childSpec),
	}
	t.root.Add(t.bridges)
	t.root.Add(t.diag)
	return t
}

// AddBridgeService adds a service to the bridge layer.
func (t *Tree) AddBridgeService(svc suture.Service) suture.ServiceToken {
	return t.bridges.Add(svc)
}

// AddDiagService adds a service to the diagnostics layer.
func (t *Tree) AddDiagService(svc suture.Service) suture.ServiceToken {
	return t.diag.Add(svc)
}

// Serve runs the tree until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}
