// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuepointlabs/cuebridge/internal/bridge"
	"github.com/cuepointlabs/cuebridge/internal/diag"
	"github.com/cuepointlabs/cuebridge/internal/plugin"
)

// BridgeService runs one equipment bridge under supervision. A bridge
// whose plugin fails to start returns the error to the supervisor,
// which retries with backoff.
type BridgeService struct {
	name      string
	bridge    *bridge.Bridge
	pluginCfg plugin.Config
}

// NewBridgeService wraps a stopped bridge and the plugin config it
// starts with.
func NewBridgeService(name string, b *bridge.Bridge, pluginCfg plugin.Config) *BridgeService {
	return &BridgeService{name: name, bridge: b, pluginCfg: pluginCfg}
}

// Serve implements suture.Service: start the bridge, hold until
// shutdown, stop it.
func (s *BridgeService) Serve(ctx context.Context) error {
	if err := s.bridge.Start(s.pluginCfg); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	<-ctx.Done()
	if err := s.bridge.Stop(); err != nil {
		return fmt.Errorf("%s stop: %w", s.name, err)
	}
	return ctx.Err()
}

func (s *BridgeService) String() string { return s.name }

// HubService runs the diagnostics websocket hub.
type HubService struct {
	hub *diag.Hub
}

func NewHubService(hub *diag.Hub) *HubService {
	return &HubService{hub: hub}
}

func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.Run(ctx)
}

func (s *HubService) String() string { return "diag-hub" }

// HTTPService adapts an http.Server's blocking ListenAndServe to the
// supervisor's context-driven lifecycle.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("diagnostics server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("diagnostics server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "diag-http" }
