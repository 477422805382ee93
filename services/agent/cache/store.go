// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides the TTL caches used on the agent hot path:
// retrieval results, tool results, and summary idempotence records.
//
// Two backends satisfy the Store interface. MemoryStore is the
// default for single-process deployments; BadgerStore persists across
// restarts. The Cache front never lets a backend error cross into
// caller control flow: when the primary backend fails, calls are
// served from a bounded in-process fallback with the same TTL and
// eviction semantics, and the serving backend is reported per call.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented TTL key-value backend.
//
// Get must treat an expired entry as absent. Implementations return
// errors only for backend faults, never for misses.
type Store interface {
	// Get returns the value and true on a live hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL. A non-positive
	// TTL stores the entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key if present. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Len returns the number of live entries. Backends whose counts
	// are approximate (log-structured storage) document that.
	Len(ctx context.Context) (int, error)

	// Name identifies the backend for logs and stats.
	Name() string

	// Close releases backend resources.
	Close() error
}
