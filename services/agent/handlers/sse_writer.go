// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dealdesk/dealdesk/services/agent/stream"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics.
// Implementations handle the SSE wire format (event: type\ndata: json\n\n)
// internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before writing
//   - Caller has disabled buffering (X-Accel-Buffering: no)
type SSEWriter interface {
	// WriteEvent writes a single event to the response. Metadata
	// (Id, CreatedAt, Hash, PrevHash) is populated automatically and
	// the response is flushed immediately after writing.
	WriteEvent(event stream.Event) error

	// WriteKeepAlive sends an SSE comment line to keep the connection
	// alive during long operations. Comments are ignored by SSE
	// clients but reset load balancer timeout counters. Does not
	// advance the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Wire Format
// =============================================================================

// WireEvent is the serialized form of one SSE event: the stream event
// payload plus the integrity metadata the writer stamps onto it.
type WireEvent struct {
	Id        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	PrevHash  string `json:"prev_hash,omitempty"`
	Hash      string `json:"hash"`

	stream.Event
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter writes SSE events to an http.ResponseWriter with a
// SHA-256 hash chain across events.
//
// Thread Safety: Safe for concurrent use; a mutex serializes writes
// and hash chain updates.
type sseWriter struct {
	mu       sync.Mutex
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
}

// NewSSEWriter creates an SSE writer over the response. It fails when
// the ResponseWriter does not support flushing, which SSE requires.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event stream.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	wire := WireEvent{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		PrevHash:  w.prevHash,
		Event:     event,
	}
	wire.Hash = computeEventHash(wire)
	w.prevHash = wire.Hash

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", wire.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline.
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash hashes the event metadata plus the serialized
// payload so the chain covers the full content of every event. The
// Hash field must be empty when called.
func computeEventHash(wire WireEvent) string {
	payload := ""
	if data, err := json.Marshal(wire.Event); err == nil {
		payload = string(data)
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s",
		wire.Id,
		wire.Type,
		wire.CreatedAt,
		wire.PrevHash,
		payload,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
// Must be called before any writes to the ResponseWriter.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
