// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store bounded by entry count.
//
// Expiry is lazy: an expired entry is removed when a Get observes it,
// so Len can briefly overcount until expired keys are touched or
// evicted. Eviction on insert removes the least-recently-used live
// entry; expired entries are reaped first since they are free wins.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*memEntry
	maxEntries int
	evictions  int64
	clock      func() time.Time
}

type memEntry struct {
	value      []byte
	expiresAt  time.Time // zero means no expiry
	lastAccess time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	// MaxEntries bounds the store. Default: 2048.
	MaxEntries int
}

// DefaultMemoryStoreConfig returns the default configuration.
func DefaultMemoryStoreConfig() *MemoryStoreConfig {
	return &MemoryStoreConfig{MaxEntries: 2048}
}

// NewMemoryStore creates a bounded in-memory store.
func NewMemoryStore(config *MemoryStoreConfig) *MemoryStore {
	if config == nil {
		config = DefaultMemoryStoreConfig()
	}
	max := config.MaxEntries
	if max <= 0 {
		max = 2048
	}
	return &MemoryStore{
		entries:    make(map[string]*memEntry),
		maxEntries: max,
		clock:      time.Now,
	}
}

// Get returns the value and true on a live hit. An expired entry is
// deleted and reported as a miss.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	now := m.clock()
	if e.expired(now) {
		delete(m.entries, key)
		m.evictions++
		return nil, false, nil
	}
	e.lastAccess = now
	return e.value, true, nil
}

// Set stores the value, evicting down to capacity afterwards. An
// overwrite of an existing key never triggers eviction.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	m.entries[key] = &memEntry{value: value, expiresAt: expires, lastAccess: now}

	for len(m.entries) > m.maxEntries {
		m.evictOne(now)
	}
	return nil
}

// evictOne removes one entry: any expired entry if found, otherwise
// the least-recently-used. O(n) scan, acceptable at the default bound.
// Caller must hold the lock.
func (m *MemoryStore) evictOne(now time.Time) {
	var lruKey string
	var lruTime time.Time
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			m.evictions++
			return
		}
		if lruKey == "" || e.lastAccess.Before(lruTime) {
			lruKey = k
			lruTime = e.lastAccess
		}
	}
	if lruKey != "" {
		delete(m.entries, lruKey)
		m.evictions++
	}
}

// Evictions reports how many entries TTL expiry and LRU pressure have
// removed since construction.
func (m *MemoryStore) Evictions() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictions
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memEntry)
	return nil
}

func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Close() error { return nil }
