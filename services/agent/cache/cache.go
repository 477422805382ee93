// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Cache is the health-checked front over a Store.
//
// Description:
//
//	Backend errors never propagate to callers. When the primary
//	backend fails, the call is transparently retried against an
//	in-process bounded fallback store with the same TTL and eviction
//	semantics, the health flag flips, and the serving backend is
//	reported per call for observability. A later successful primary
//	call restores health. Callers treat the cache as purely optional
//	acceleration either way.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	primary  Store
	fallback Store
	ttl      time.Duration
	logger   *slog.Logger

	hits          atomic.Int64
	misses        atomic.Int64
	errors        atomic.Int64
	fallbackCalls atomic.Int64
	healthy       atomic.Bool
}

// Config configures a Cache front.
type Config struct {
	// Store is the primary backend. Required.
	Store Store

	// TTL is the default entry lifetime. Default: 15 minutes.
	TTL time.Duration

	// FallbackEntries bounds the in-process fallback store.
	// Default: 512.
	FallbackEntries int

	// Logger for degradation warnings. If nil, uses slog.Default().
	Logger *slog.Logger
}

// New creates a Cache front over the given backend.
func New(config *Config) *Cache {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fbEntries := config.FallbackEntries
	if fbEntries <= 0 {
		fbEntries = 512
	}
	c := &Cache{
		primary:  config.Store,
		fallback: NewMemoryStore(&MemoryStoreConfig{MaxEntries: fbEntries}),
		ttl:      ttl,
		logger:   logger,
	}
	c.healthy.Store(true)
	return c
}

// Get returns the cached value, whether it was a hit, and the name of
// the backend that served the call.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, string) {
	val, ok, err := c.primary.Get(ctx, key)
	if err != nil {
		c.degrade("get", err)
		val, ok, _ = c.fallback.Get(ctx, key)
		c.count(ok)
		return val, ok, c.fallback.Name()
	}
	c.healthy.Store(true)
	c.count(ok)
	return val, ok, c.primary.Name()
}

// Set stores the value under the default TTL. Returns the backend that
// accepted the write. Failures never propagate.
func (c *Cache) Set(ctx context.Context, key string, value []byte) string {
	return c.SetTTL(ctx, key, value, c.ttl)
}

// SetTTL stores the value with an explicit TTL.
func (c *Cache) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) string {
	if err := c.primary.Set(ctx, key, value, ttl); err != nil {
		c.degrade("set", err)
		_ = c.fallback.Set(ctx, key, value, ttl)
		return c.fallback.Name()
	}
	c.healthy.Store(true)
	return c.primary.Name()
}

// GetJSON unmarshals a cached value into out. A decode failure is
// treated as a miss and the corrupt entry is deleted.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) bool {
	raw, ok, backend := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn("dropping undecodable cache entry",
			slog.String("key", key),
			slog.String("backend", backend),
			slog.Any("error", err),
		)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON marshals v and stores it under the default TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache value not serializable",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return
	}
	c.Set(ctx, key, raw)
}

// Delete removes key from both backends so a primary recovery cannot
// resurrect a deleted entry.
func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.primary.Delete(ctx, key); err != nil {
		c.degrade("delete", err)
	}
	_ = c.fallback.Delete(ctx, key)
}

// Healthy reports whether the most recent primary call succeeded.
func (c *Cache) Healthy() bool { return c.healthy.Load() }

func (c *Cache) count(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *Cache) degrade(op string, err error) {
	c.errors.Add(1)
	c.fallbackCalls.Add(1)
	if c.healthy.CompareAndSwap(true, false) {
		// Log on the transition only, not on every degraded call.
		c.logger.Warn("cache primary degraded, serving from in-process fallback",
			slog.String("backend", c.primary.Name()),
			slog.String("op", op),
			slog.Any("error", err),
		)
	}
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Backend       string  `json:"backend"`
	Healthy       bool    `json:"healthy"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Errors        int64   `json:"errors"`
	FallbackCalls int64   `json:"fallback_calls"`
	HitRate       float64 `json:"hit_rate"`
	Size          int     `json:"size"`
	Evictions     int64   `json:"evictions"`
}

// evictionReporter is implemented by stores that count the entries
// they remove on TTL expiry or capacity pressure.
type evictionReporter interface {
	Evictions() int64
}

// Stats returns current counters. Size reflects the primary when
// healthy, otherwise the fallback. Evictions sums over both backends
// when they report it.
func (c *Cache) Stats(ctx context.Context) Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	size, err := c.primary.Len(ctx)
	if err != nil {
		size, _ = c.fallback.Len(ctx)
	}
	var evictions int64
	if r, ok := c.primary.(evictionReporter); ok {
		evictions += r.Evictions()
	}
	if r, ok := c.fallback.(evictionReporter); ok {
		evictions += r.Evictions()
	}
	return Stats{
		Backend:       c.primary.Name(),
		Healthy:       c.healthy.Load(),
		Hits:          hits,
		Misses:        misses,
		Errors:        c.errors.Load(),
		FallbackCalls: c.fallbackCalls.Load(),
		HitRate:       rate,
		Size:          size,
		Evictions:     evictions,
	}
}

// Close closes the primary backend. The fallback holds no resources.
func (c *Cache) Close() error { return c.primary.Close() }
