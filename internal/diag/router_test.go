// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package diag

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func testStatus() Status {
	return Status{
		Version: "test",
		Uptime:  "1s",
		Backend: BackendStatus{Enabled: true, Breaker: "closed"},
	}
}

func startTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(NewRouter(hub, testStatus))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, srv
}

func TestHealthz(t *testing.T) {
	_, srv := startTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, srv := startTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Version != "test" || got.Backend.Breaker != "closed" {
		t.Errorf("unexpected status document: %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := startTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestWebsocketFeed(t *testing.T) {
	hub, srv := startTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Registration goes through the hub loop; wait for it.
	deadline := time.After(2 * time.Second)
	for hub.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	hub.Broadcast(MessageTypeTrackLive, map[string]string{"title": "T", "artist": "A"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != MessageTypeTrackLive {
		t.Errorf("expected track_live message, got %q", msg.Type)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()
	srv := httptest.NewServer(NewRouter(hub, testStatus))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.After(2 * time.Second)
	for hub.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-hubDone

	// The stopped hub closes the connection; the console sees it go
	// away promptly rather than at the read deadline.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if e, ok := err.(net.Error); ok && e.Timeout() {
				t.Fatal("connection survived hub shutdown")
			}
			break
		}
	}

	// A console arriving after shutdown is refused instead of leaving
	// its handler blocked on the dead run loop.
	late, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return
	}
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("expected late connection to be closed")
	} else if e, ok := err.(net.Error); ok && e.Timeout() {
		t.Error("late connection was neither served nor closed")
	}
}
