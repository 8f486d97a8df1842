// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package icecast

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/cuepointlabs/cuebridge/internal/logging"
	"github.com/cuepointlabs/cuebridge/internal/plugin"
)

const (
	defaultPort = 8001
	minPort     = 1024
	maxPort     = 65535

	// virtualDeck is the fixed deck id: a stream source has no decks.
	virtualDeck = "1"

	eventBuffer = 64
	readBuffer  = 4096

	// rawTailMax bounds the fallback scan buffer for sources that send
	// no icy-metaint header.
	rawTailMax = 8192
)

// Plugin runs a small HTTP server accepting Icecast source connections
// (SOURCE or PUT) and emits a track event whenever the in-band
// StreamTitle changes. Source requests stream forever, so Stop
// force-closes every open connection before releasing the port.
type Plugin struct {
	mu        sync.Mutex
	running   bool
	emitter   plugin.Emitter
	srv       *http.Server
	serveWg   sync.WaitGroup
	handlerWg sync.WaitGroup
}

// New returns a stopped Icecast source plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:          "icecast",
		Name:        "Icecast Source",
		Description: "Accepts an Icecast/Shoutcast source stream and reads StreamTitle metadata",
	}
}

func (p *Plugin) Capabilities() plugin.Capabilities {
	// A metadata stream only ever says "the title changed".
	return plugin.Capabilities{}
}

func (p *Plugin) ConfigOptions() []plugin.ConfigOption {
	return []plugin.ConfigOption{
		{
			Name:        "port",
			Type:        plugin.OptionInt,
			Description: "TCP port the source server listens on",
			Default:     defaultPort,
			Min:         minPort,
			Max:         maxPort,
		},
	}
}

// Start binds the listening socket and begins accepting sources. An
// out-of-range port or an unavailable socket fails immediately.
func (p *Plugin) Start(cfg plugin.Config) error {
	port, err := plugin.IntOption(cfg, "port", defaultPort)
	if err != nil {
		return err
	}
	if port < minPort || port > maxPort {
		return fmt.Errorf("port %d out of range [%d, %d]", port, minPort, maxPort)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return plugin.ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", port, err)
	}

	p.emitter.Open(eventBuffer)
	// Source clients speak nonstandard methods (SOURCE), so routing is
	// a single catch-all handler rather than a method-aware mux.
	p.srv = &http.Server{Handler: http.HandlerFunc(p.handleSource)}
	p.running = true

	p.serveWg.Add(1)
	go func(srv *http.Server, ln net.Listener) {
		defer p.serveWg.Done()
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error().Err(err).Msg("icecast server stopped unexpectedly")
		}
	}(p.srv, ln)

	p.emitter.Emit(plugin.ReadyEvent{})
	logging.Info().Str("plugin", "icecast").Int("port", port).Msg("icecast source server listening")
	return nil
}

// Stop force-closes open source connections, stops the server, and
// closes the event channel. Idempotent.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	srv := p.srv
	p.mu.Unlock()

	p.emitter.Interrupt()
	// Close (not Shutdown): source requests never finish on their own.
	if err := srv.Close(); err != nil {
		logging.Warn().Err(err).Msg("icecast server close")
	}
	p.serveWg.Wait()
	p.handlerWg.Wait()
	p.emitter.Close()
	logging.Info().Str("plugin", "icecast").Msg("icecast plugin stopped")
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

// handleSource consumes one source connection until it closes or the
// plugin stops.
func (p *Plugin) handleSource(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.handlerWg.Add(1)
	p.mu.Unlock()
	defer p.handlerWg.Done()

	device := sourceDevice(r)
	p.emitter.Emit(plugin.ConnectionEvent{Connected: true, DeviceName: device})
	defer p.emitter.Emit(plugin.ConnectionEvent{Connected: false, DeviceName: device})

	logging.Info().Str("method", r.Method).Str("device", device).Str("remote", r.RemoteAddr).Msg("icecast source connected")

	metaInt := 0
	if v := r.Header.Get("Icy-Metaint"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			metaInt = n
		}
	}

	var (
		mp                    *MetaParser
		rawTail               []byte
		lastArtist, lastTitle string
		sawTrack              bool
	)
	if metaInt > 0 {
		mp = NewMetaParser(metaInt)
	}

	handleMeta := func(meta string) {
		artist, title, ok := ParseStreamTitle(meta)
		if !ok {
			p.emitter.Emit(plugin.LogEvent{Message: "dropped metadata block without usable StreamTitle"})
			return
		}
		if sawTrack && artist == lastArtist && title == lastTitle {
			return
		}
		sawTrack = true
		lastArtist, lastTitle = artist, title
		p.emitter.Emit(plugin.TrackEvent{
			DeckID: virtualDeck,
			Track:  &plugin.Track{Title: title, Artist: artist},
		})
	}

	buf := make([]byte, readBuffer)
	for {
		n, err := r.Body.Read(buf)
		if n > 0 {
			if mp != nil {
				for _, meta := range mp.Feed(buf[:n]) {
					handleMeta(meta)
				}
			} else {
				rawTail = scanRaw(append(rawTail, buf[:n]...), handleMeta)
			}
		}
		if err != nil {
			logging.Debug().Str("device", device).Msg("icecast source disconnected")
			return
		}
	}
}

// scanRaw handles sources without an icy-metaint header by scanning the
// raw byte stream for complete StreamTitle='...'; sequences. It returns
// the unconsumed tail, bounded so a metadata-free stream cannot grow it
// without limit.
func scanRaw(tail []byte, handle func(string)) []byte {
	marker := []byte("StreamTitle='")
	for {
		idx := bytes.Index(tail, marker)
		if idx < 0 {
			break
		}
		rest := tail[idx+len(marker):]
		end := bytes.Index(rest, []byte("';"))
		if end < 0 {
			// Incomplete value; keep from the marker on.
			tail = tail[idx:]
			break
		}
		handle(string(tail[idx : idx+len(marker)+end+2]))
		tail = rest[end+2:]
	}
	if len(tail) > rawTailMax {
		tail = tail[len(tail)-len(marker):]
	}
	return append([]byte(nil), tail...)
}

func sourceDevice(r *http.Request) string {
	if name := r.Header.Get("Ice-Name"); name != "" {
		return name
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		return ua
	}
	return "Icecast source"
}
