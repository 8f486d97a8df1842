// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package serato

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuepointlabs/cuebridge/internal/plugin"
)

func writeSession(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
}

func startPlugin(t *testing.T, dir string) *Plugin {
	t.Helper()
	p := New()
	err := p.Start(plugin.Config{"seratoPath": dir, "pollInterval": 200})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { p.Stop() })
	return p
}

func nextTrack(t *testing.T, events <-chan plugin.Event, timeout time.Duration) plugin.TrackEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed while waiting for track")
			}
			if te, isTrack := ev.(plugin.TrackEvent); isTrack {
				return te
			}
		case <-deadline:
			t.Fatal("timed out waiting for track event")
		}
	}
}

func TestPluginEmitsNewTrackLoads(t *testing.T) {
	dir := t.TempDir()
	session := filepath.Join(dir, "1.session")

	// History written before startup must be skipped.
	writeSession(t, session, sessionEntry("Old Track", "Old Artist"))

	p := startPlugin(t, dir)
	events := p.Events()

	deck := binary.BigEndian.AppendUint32(nil, 2)
	writeSession(t, session, sessionEntry("New Track", "New Artist",
		field(fieldDeck, deck)))

	te := nextTrack(t, events, 3*time.Second)
	if te.DeckID != "2" {
		t.Errorf("expected deck 2, got %s", te.DeckID)
	}
	if te.Track == nil || te.Track.Title != "New Track" || te.Track.Artist != "New Artist" {
		t.Errorf("unexpected track: %+v", te.Track)
	}
}

func TestPluginSuppressesDuplicateLoads(t *testing.T) {
	dir := t.TempDir()
	session := filepath.Join(dir, "1.session")
	writeSession(t, session, nil)

	p := startPlugin(t, dir)
	events := p.Events()

	writeSession(t, session, sessionEntry("Same", "Artist"))
	nextTrack(t, events, 3*time.Second)

	// The same artist/title on the same deck is equipment noise.
	writeSession(t, session, sessionEntry("Same", "Artist"))
	writeSession(t, session, sessionEntry("Different", "Artist"))

	te := nextTrack(t, events, 3*time.Second)
	if te.Track.Title != "Different" {
		t.Errorf("expected duplicate suppressed, got %q", te.Track.Title)
	}
}

func TestPluginPicksUpNewerSessionFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "1.session")
	writeSession(t, first, sessionEntry("Ignored", "History"))

	p := startPlugin(t, dir)
	events := p.Events()

	// A newer file is read from the start, not from EOF.
	time.Sleep(20 * time.Millisecond)
	second := filepath.Join(dir, "2.session")
	writeSession(t, second, sessionEntry("Fresh", "Artist"))
	now := time.Now()
	if err := os.Chtimes(second, now, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	te := nextTrack(t, events, 3*time.Second)
	if te.Track.Title != "Fresh" {
		t.Errorf("expected entry from newer file, got %q", te.Track.Title)
	}
}

func TestStartRejectsDoubleStartAndBadInterval(t *testing.T) {
	dir := t.TempDir()
	p := startPlugin(t, dir)

	err := p.Start(plugin.Config{"seratoPath": dir})
	if !errors.Is(err, plugin.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	q := New()
	if err := q.Start(plugin.Config{"seratoPath": dir, "pollInterval": 50}); err == nil {
		q.Stop()
		t.Error("expected out-of-range poll interval to fail")
	}
}

func TestStopIsIdempotentAndClosesEvents(t *testing.T) {
	dir := t.TempDir()
	p := New()
	if err := p.Start(plugin.Config{"seratoPath": dir, "pollInterval": 200}); err != nil {
		t.Fatal(err)
	}
	events := p.Events()

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if p.Running() {
		t.Error("expected stopped plugin")
	}

	// Drain to the close.
	for {
		if _, ok := <-events; !ok {
			return
		}
	}
}
