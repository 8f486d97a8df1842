// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

package plugin

import "sync"

// Emitter manages the per-run event channel shared by a plugin's
// producer goroutines. Each run gets a fresh channel via Open; shutdown
// is two-phase so producers never send on a closed channel:
//
//	Interrupt()          // unblocks and silences all Emit calls
//	<-producers done     // plugin waits for its goroutines
//	Close()              // closes the channel for consumers
type Emitter struct {
	mu   sync.Mutex
	ch   chan Event
	stop chan struct{}
}

// Open starts a fresh run with a buffered channel of the given size.
func (e *Emitter) Open(buffer int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ch = make(chan Event, buffer)
	e.stop = make(chan struct{})
}

// Events returns the current run's channel, or nil before the first Open.
func (e *Emitter) Events() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Emit delivers an event to the consumer. It blocks while the buffer is
// full, but returns immediately once Interrupt has been called.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	ch, stop := e.ch, e.stop
	e.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-stop:
	}
}

// Interrupt unblocks pending Emit calls and turns subsequent ones into
// no-ops. Safe to call more than once per run.
func (e *Emitter) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop == nil {
		return
	}
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// Close closes the run's channel. Call only after Interrupt has returned
// and every producer goroutine has exited.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch != nil {
		close(e.ch)
		e.ch = nil
	}
}
