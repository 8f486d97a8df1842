// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cuepointlabs/cuebridge/internal/deck"
	"github.com/cuepointlabs/cuebridge/internal/logging"
	"github.com/cuepointlabs/cuebridge/internal/metrics"
)

const (
	requestTimeout = 10 * time.Second

	// Track and status posts get one more retry than clears; a clear
	// racing shutdown should give up quickly.
	trackRetries  = 3
	statusRetries = 3
	deleteRetries = 2

	trackRetryBase  = 2 * time.Second
	deleteRetryBase = 1 * time.Second

	// bufferCap bounds the FIFO of track posts awaiting replay.
	bufferCap = 100
)

// Config identifies the backend endpoint and event.
type Config struct {
	URL       string
	APIKey    string
	EventCode string
}

type trackPayload struct {
	EventCode string  `json:"event_code"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Album     *string `json:"album"`
	Deck      *string `json:"deck"`
	Delayed   bool    `json:"delayed,omitempty"`
}

type statusPayload struct {
	EventCode  string  `json:"event_code"`
	Connected  bool    `json:"connected"`
	DeviceName *string `json:"device_name"`
}

// Reporter posts now-playing and status events to the backend through
// the circuit breaker. Track posts that fail are buffered in FIFO order
// and replayed, flagged as delayed, when the circuit recloses.
type Reporter struct {
	cfg        Config
	client     *http.Client
	breaker    *Breaker
	instanceID string

	trackRetries  uint64
	statusRetries uint64
	deleteRetries uint64
	trackBase     time.Duration
	deleteBase    time.Duration

	mu     sync.Mutex
	buffer []trackPayload
}

// NewReporter validates the backend URL and builds a reporter with a
// closed breaker.
func NewReporter(cfg Config, bcfg BreakerConfig) (*Reporter, error) {
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if cfg.EventCode == "" {
		return nil, fmt.Errorf("backend event code is required")
	}

	r := &Reporter{
		cfg:           cfg,
		client:        &http.Client{Timeout: requestTimeout},
		instanceID:    uuid.NewString(),
		trackRetries:  trackRetries,
		statusRetries: statusRetries,
		deleteRetries: deleteRetries,
		trackBase:     trackRetryBase,
		deleteBase:    deleteRetryBase,
	}
	r.breaker = NewBreaker("backend", bcfg, r.replay)
	return r, nil
}

// TrackLive posts a now-playing report. A failed or rejected post is
// queued for replay.
func (r *Reporter) TrackLive(ctx context.Context, deckID string, track deck.Track) error {
	p := trackPayload{
		EventCode: r.cfg.EventCode,
		Title:     track.Title,
		Artist:    track.Artist,
	}
	if track.Album != "" {
		album := track.Album
		p.Album = &album
	}
	if deckID != "" {
		d := deckID
		p.Deck = &d
	}

	err := r.breaker.Do(func() error {
		return r.send(ctx, http.MethodPost, "/api/bridge/nowplaying", p, r.trackRetries, r.trackBase)
	})
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("track", "failure").Inc()
		logging.Warn().Err(err).Str("deck", deckID).Str("title", track.Title).Msg("now-playing report failed, buffering")
		r.enqueue(p)
		return err
	}
	metrics.ReportsTotal.WithLabelValues("track", "success").Inc()
	return nil
}

// Status posts the equipment link state.
func (r *Reporter) Status(ctx context.Context, connected bool, deviceName string) error {
	p := statusPayload{EventCode: r.cfg.EventCode, Connected: connected}
	if deviceName != "" {
		d := deviceName
		p.DeviceName = &d
	}

	err := r.breaker.Do(func() error {
		return r.send(ctx, http.MethodPost, "/api/bridge/status", p, r.statusRetries, r.trackBase)
	})
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("status", "failure").Inc()
		return err
	}
	metrics.ReportsTotal.WithLabelValues("status", "success").Inc()
	return nil
}

// ClearNowPlaying deletes the backend's now-playing record. This is the
// authoritative clear on shutdown and disconnect.
func (r *Reporter) ClearNowPlaying(ctx context.Context) error {
	err := r.breaker.Do(func() error {
		return r.send(ctx, http.MethodDelete, "/api/bridge/nowplaying/"+url.PathEscape(r.cfg.EventCode), nil, r.deleteRetries, r.deleteBase)
	})
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("clear", "failure").Inc()
		return err
	}
	metrics.ReportsTotal.WithLabelValues("clear", "success").Inc()
	return nil
}

// BreakerState exposes the circuit state for diagnostics.
// InstanceID is the per-process id carried on every outbound request.
func (r *Reporter) InstanceID() string {
	return r.instanceID
}

func (r *Reporter) BreakerState() string {
	return r.breaker.State()
}

// BufferedCount reports how many track posts await replay.
func (r *Reporter) BufferedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// send issues one logical request, retrying non-2xx and transport
// errors with exponential backoff before reporting failure to the
// breaker.
func (r *Reporter) send(ctx context.Context, method, path string, payload any, retries uint64, base time.Duration) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return backoff.Permanent(err)
		}
	}
	endpoint := strings.TrimRight(r.cfg.URL, "/") + path

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Bridge-API-Key", r.cfg.APIKey)
		req.Header.Set("X-Bridge-Instance", r.instanceID)

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("backend returned %s", resp.Status)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
}

// enqueue adds a failed track post to the replay buffer, dropping the
// oldest entry when full.
func (r *Reporter) enqueue(p trackPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) >= bufferCap {
		r.buffer = r.buffer[1:]
	}
	r.buffer = append(r.buffer, p)
	metrics.BufferedReports.Set(float64(len(r.buffer)))
}

// replay drains the buffer in FIFO order once the circuit recloses,
// marking each post delayed. The first renewed failure puts the post
// back at the head and stops the replay.
func (r *Reporter) replay() {
	for {
		r.mu.Lock()
		if len(r.buffer) == 0 {
			r.mu.Unlock()
			return
		}
		p := r.buffer[0]
		r.buffer = r.buffer[1:]
		metrics.BufferedReports.Set(float64(len(r.buffer)))
		r.mu.Unlock()

		p.Delayed = true
		err := r.breaker.Do(func() error {
			return r.send(context.Background(), http.MethodPost, "/api/bridge/nowplaying", p, r.trackRetries, r.trackBase)
		})
		if err != nil {
			logging.Warn().Err(err).Str("title", p.Title).Msg("replay stopped on renewed failure")
			r.mu.Lock()
			r.buffer = append([]trackPayload{p}, r.buffer...)
			metrics.BufferedReports.Set(float64(len(r.buffer)))
			r.mu.Unlock()
			return
		}
		metrics.ReportsTotal.WithLabelValues("track", "replayed").Inc()
		logging.Info().Str("title", p.Title).Str("artist", p.Artist).Msg("replayed buffered now-playing report")
	}
}
