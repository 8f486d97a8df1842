// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package diag serves the operator diagnostics surface: health and
// status endpoints, Prometheus metrics, and a websocket feed of bridge
// events for a live console.
package diag

import (
	"context"
	"sync"
	"time"

	"github.com/cuepointlabs/cuebridge/internal/logging"
)

// Websocket message types pushed to diagnostic consoles.
const (
	MessageTypeTrackLive         = "track_live"
	MessageTypeNowPlayingCleared = "now_playing_cleared"
	MessageTypeConnection        = "connection"
	MessageTypeLog               = "log"
)

// Message is one feed item.
type Message struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Hub fans feed messages out to every connected websocket client.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates an empty hub; Run must be started for clients to work.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// attach hands a client to the run loop. Returns false when the hub has
// already stopped; the caller owns the connection in that case.
func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// detach is safe to call after the run loop has exited.
func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Run owns the client set until ctx is cancelled, then closes every
// client and returns ctx.Err(). Designed to run under supervision.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			logging.Info().Str("component", "diag-hub").Msg("diagnostics hub stopped")
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info().Int("clients", total).Msg("diagnostics client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info().Int("clients", total).Msg("diagnostics client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// A stalled console loses feed items rather than
					// stalling the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a feed message for all clients. Never blocks; the
// message is dropped when the hub is saturated.
func (h *Hub) Broadcast(msgType string, data any) {
	msg := Message{Type: msgType, Time: time.Now().UTC(), Data: data}
	select {
	case h.broadcast <- msg:
	default:
	}
}

// ClientCount reports connected diagnostic consoles.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		// Unblocks the client's read pump immediately instead of
		// leaving it parked until the read deadline expires.
		_ = c.conn.Close()
	}
}
