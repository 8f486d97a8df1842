// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package serato

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuepointlabs/cuebridge/internal/logging"
	"github.com/cuepointlabs/cuebridge/internal/plugin"
)

const (
	deviceName = "Serato DJ"

	defaultPollInterval = 2 * time.Second
	minPollInterval     = 200 * time.Millisecond
	maxPollInterval     = 10 * time.Second

	eventBuffer = 64
)

// Plugin tails the newest Serato session file and emits a track event
// per deck whenever the loaded track changes. Reading starts at the
// file's current end so history from before startup is ignored; a newer
// session file appearing in the directory is picked up from offset zero.
type Plugin struct {
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	emitter plugin.Emitter

	dir          string
	pollInterval time.Duration

	// Poll-loop state, touched only by the poll goroutine.
	curFile   string
	offset    int64
	carry     []byte
	lastKey   map[string]string
	connected bool
}

// New returns a stopped Serato session-file plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:          "serato",
		Name:        "Serato DJ",
		Description: "Reads track loads from Serato DJ session history files",
	}
}

func (p *Plugin) Capabilities() plugin.Capabilities {
	// Session files carry deck numbers and album tags, but no
	// play/pause, fader, or master telemetry.
	return plugin.Capabilities{
		MultiDeck:     true,
		AlbumMetadata: true,
	}
}

func (p *Plugin) ConfigOptions() []plugin.ConfigOption {
	return []plugin.ConfigOption{
		{
			Name:        "seratoPath",
			Type:        plugin.OptionString,
			Description: "Serato session history directory",
			Default:     DefaultSessionsDir(),
		},
		{
			Name:        "pollInterval",
			Type:        plugin.OptionInt,
			Description: "Session file poll interval in milliseconds",
			Default:     int(defaultPollInterval / time.Millisecond),
			Min:         int(minPollInterval / time.Millisecond),
			Max:         int(maxPollInterval / time.Millisecond),
		},
	}
}

// Start validates the configuration and launches the poll loop.
func (p *Plugin) Start(cfg plugin.Config) error {
	dir, err := plugin.StringOption(cfg, "seratoPath", DefaultSessionsDir())
	if err != nil {
		return err
	}
	interval, err := plugin.DurationOption(cfg, "pollInterval", defaultPollInterval)
	if err != nil {
		return err
	}
	if interval < minPollInterval || interval > maxPollInterval {
		return fmt.Errorf("poll interval %v out of range [%v, %v]", interval, minPollInterval, maxPollInterval)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return plugin.ErrAlreadyRunning
	}

	p.dir = dir
	p.pollInterval = interval
	p.curFile = ""
	p.offset = 0
	p.carry = nil
	p.lastKey = make(map[string]string)
	p.connected = false

	p.emitter.Open(eventBuffer)
	p.stopCh = make(chan struct{})
	p.running = true

	// Seek past any session written before startup so only new loads
	// are reported.
	if f := newestSessionFile(dir); f != "" {
		if fi, err := os.Stat(f); err == nil {
			p.curFile = f
			p.offset = fi.Size()
		}
	}

	p.wg.Add(1)
	go p.pollLoop(p.stopCh)

	logging.Info().Str("plugin", "serato").Str("dir", dir).Dur("interval", interval).Msg("serato plugin started")
	return nil
}

// Stop halts the poll loop and closes the event channel. Idempotent.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.emitter.Interrupt()
	p.wg.Wait()
	p.emitter.Close()
	logging.Info().Str("plugin", "serato").Msg("serato plugin stopped")
	return nil
}

func (p *Plugin) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Plugin) Events() <-chan plugin.Event {
	return p.emitter.Events()
}

func (p *Plugin) pollLoop(stop <-chan struct{}) {
	defer p.wg.Done()
	p.emitter.Emit(plugin.ReadyEvent{})

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll reads newly appended session bytes and emits track changes.
func (p *Plugin) poll() {
	newest := newestSessionFile(p.dir)
	if newest == "" {
		return
	}

	if newest != p.curFile {
		// A fresh session file: read it from the start.
		p.curFile = newest
		p.offset = 0
		p.carry = nil
	}

	if !p.connected {
		p.connected = true
		p.emitter.Emit(plugin.ConnectionEvent{Connected: true, DeviceName: deviceName})
	}

	data, err := readFrom(p.curFile, p.offset)
	if err != nil {
		// File read races with the writer are expected; retry next poll.
		logging.Debug().Err(err).Str("file", p.curFile).Msg("session file read failed")
		return
	}
	if len(data) == 0 && len(p.carry) == 0 {
		return
	}
	p.offset += int64(len(data))

	buf := append(p.carry, data...)
	entries, consumed := Parse(buf)
	p.carry = buf[consumed:]

	for _, e := range entries {
		p.emitEntry(e)
	}
}

// emitEntry converts one session entry into a track event, dropping
// empty entries and per-deck duplicates.
func (p *Plugin) emitEntry(e Entry) {
	title := strings.TrimSpace(e.Title)
	artist := strings.TrimSpace(e.Artist)
	if title == "" && artist == "" {
		return
	}

	deckID := "1"
	if e.Deck > 0 {
		deckID = strconv.Itoa(e.Deck)
	}

	key := strings.ToLower(artist) + "::" + strings.ToLower(title)
	if p.lastKey[deckID] == key {
		return
	}
	p.lastKey[deckID] = key

	p.emitter.Emit(plugin.TrackEvent{
		DeckID: deckID,
		Track: &plugin.Track{
			Title:  title,
			Artist: artist,
			Album:  strings.TrimSpace(e.Album),
		},
	})
}

// DefaultSessionsDir returns the conventional Serato session history
// location under the user's music folder.
func DefaultSessionsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Music", "_Serato_", "History", "Sessions")
}

// newestSessionFile returns the most recently modified *.session file in
// dir, or empty when none exists.
func newestSessionFile(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.session"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	newest := ""
	var newestMod time.Time
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		if newest == "" || fi.ModTime().After(newestMod) {
			newest = m
			newestMod = fi.ModTime()
		}
	}
	return newest
}

// readFrom reads the file's contents from the given offset to its end.
func readFrom(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() <= offset {
		return nil, nil
	}
	buf := make([]byte, fi.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}
