// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream converts graph execution into an ordered sequence of
// typed events consumed exactly once by one client connection.
//
// Token events pass through with no batching: each model-emitted chunk
// becomes one event the moment it arrives. Source events are held
// until generation completes, then emitted deduplicated and capped.
package stream

import (
	"sync"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
)

// EventType discriminates the event union.
type EventType string

const (
	// EventToken carries one incremental text chunk.
	EventToken EventType = "token"

	// EventSourceAdded carries one final source citation. Emitted
	// only after generation completes, top-K by relevance.
	EventSourceAdded EventType = "source_added"

	// EventApprovalRequired pauses the client for a decision.
	EventApprovalRequired EventType = "approval_required"

	// EventSpecialistProgress reports long-running phase work.
	EventSpecialistProgress EventType = "specialist_progress"

	// EventError carries a structured agent error.
	EventError EventType = "error"

	// EventDone terminates the sequence.
	EventDone EventType = "done"
)

// Progress describes ongoing specialist work.
type Progress struct {
	Specialist string `json:"specialist"`
	Phase      string `json:"phase,omitempty"`
	Message    string `json:"message"`
}

// Done carries turn completion metadata. Status is "ok" or "error";
// either way the done event is the last one on the stream, so clients
// can tell a finished turn from a severed connection.
type Done struct {
	ThreadID  string   `json:"thread_id"`
	Status    string   `json:"status"`
	Provider  string   `json:"provider,omitempty"`
	CacheHit  bool     `json:"cache_hit"`
	NextSteps []string `json:"next_steps,omitempty"`
}

// Event is the tagged union sent to the client. Exactly one payload
// field matching Type is set.
type Event struct {
	Type     EventType                  `json:"type"`
	Token    string                     `json:"token,omitempty"`
	Source   *datatypes.SourceCitation  `json:"source,omitempty"`
	Approval *datatypes.ApprovalRequest `json:"approval,omitempty"`
	Progress *Progress                  `json:"progress,omitempty"`
	Err      *datatypes.AgentError      `json:"error,omitempty"`
	Done     *Done                      `json:"done,omitempty"`
}

// MaxSourceEvents caps how many source_added events one turn emits.
const MaxSourceEvents = 5

// Stream is a lazy, forward-only, single-consumption event sequence.
//
// The producer emits until Close; the consumer ranges over Events.
// Cancel lets the consumer abandon the stream early, which unblocks
// and stops the producer rather than leaking the execution.
//
// Thread Safety: one producer goroutine and one consumer goroutine.
type Stream struct {
	ch   chan Event
	done chan struct{}

	closeOnce  sync.Once
	cancelOnce sync.Once
}

// New creates a stream. A small buffer absorbs scheduling jitter
// without introducing artificial batching.
func New(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Emit delivers one event. It returns false when the consumer has
// cancelled, which producers treat as a stop signal.
func (s *Stream) Emit(e Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- e:
		return true
	case <-s.done:
		return false
	}
}

// EmitSources emits the final source_added sequence: deduplicated,
// ranked, capped at MaxSourceEvents. Called exactly once, after
// generation completes.
func (s *Stream) EmitSources(state *datatypes.State) bool {
	for _, src := range state.TopSources(MaxSourceEvents) {
		cp := src
		if !s.Emit(Event{Type: EventSourceAdded, Source: &cp}) {
			return false
		}
	}
	return true
}

// Events returns the consumption channel. The sequence ends when the
// channel closes.
func (s *Stream) Events() <-chan Event { return s.ch }

// Cancel is called by the consumer to abandon the stream. Safe to
// call multiple times and concurrently with Emit.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() { close(s.done) })
}

// Cancelled reports whether the consumer has abandoned the stream.
func (s *Stream) Cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close ends the sequence. Producer-side only; emitting after Close
// panics by design of channels, so producers call it last.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}
