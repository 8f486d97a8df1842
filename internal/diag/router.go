// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package diag

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuepointlabs/cuebridge/internal/deck"
	"github.com/cuepointlabs/cuebridge/internal/logging"
)

// BridgeStatus is one bridge's slice of the status document.
type BridgeStatus struct {
	Plugin    string          `json:"plugin"`
	Running   bool            `json:"running"`
	Connected bool            `json:"connected"`
	Device    string          `json:"device,omitempty"`
	Decks     []deck.Snapshot `json:"decks"`
}

// BackendStatus describes the reporting link.
type BackendStatus struct {
	Enabled  bool   `json:"enabled"`
	Breaker  string `json:"breaker,omitempty"`
	Buffered int    `json:"buffered,omitempty"`
}

// Status is the /api/status document.
type Status struct {
	Version   string         `json:"version"`
	Instance  string         `json:"instance"`
	StartedAt time.Time      `json:"started_at"`
	Uptime    string         `json:"uptime"`
	Bridges   []BridgeStatus `json:"bridges"`
	Backend   BackendStatus  `json:"backend"`
	Consoles  int            `json:"consoles"`
}

// StatusFunc assembles the current status document.
type StatusFunc func() Status

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The diagnostics surface is operator-local; origins are not
	// restricted.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewRouter builds the diagnostics HTTP handler.
func NewRouter(hub *Hub, status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, status())
	})

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logging.Warn().Err(err).Msg("diagnostics websocket upgrade failed")
			return
		}
		c := newClient(hub, conn)
		if !hub.attach(c) {
			_ = conn.Close()
			return
		}
		c.start()
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encode diagnostics response")
	}
}
