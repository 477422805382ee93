// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	now := time.Now()
	s.clock = func() time.Time { return now }

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected miss after TTL")
	}
	// The expired entry must be reaped, not just hidden.
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("expired entry should be removed, size=%d", n)
	}
}

func TestMemoryStoreEvictsLRU(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(&MemoryStoreConfig{MaxEntries: 3})
	now := time.Now()
	s.clock = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		_ = s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0)
	}
	// Touch k0 so k1 becomes least recently used.
	now = now.Add(time.Second)
	if _, ok, _ := s.Get(ctx, "k0"); !ok {
		t.Fatal("k0 should be present")
	}

	now = now.Add(time.Second)
	_ = s.Set(ctx, "k3", []byte("v"), 0)

	if n, _ := s.Len(ctx); n != 3 {
		t.Errorf("size should stay at bound, got %d", n)
	}
	if _, ok, _ := s.Get(ctx, "k1"); ok {
		t.Error("k1 should have been evicted as LRU")
	}
	if _, ok, _ := s.Get(ctx, "k0"); !ok {
		t.Error("recently read k0 should survive eviction")
	}
}

func TestMemoryStorePrefersExpiredEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(&MemoryStoreConfig{MaxEntries: 2})
	now := time.Now()
	s.clock = func() time.Time { return now }

	_ = s.Set(ctx, "short", []byte("v"), time.Second)
	now = now.Add(time.Millisecond)
	_ = s.Set(ctx, "live", []byte("v"), time.Hour)

	now = now.Add(time.Minute) // "short" is now expired
	_ = s.Set(ctx, "new", []byte("v"), time.Hour)

	if _, ok, _ := s.Get(ctx, "live"); !ok {
		t.Error("live entry should survive when an expired one is available")
	}
	if _, ok, _ := s.Get(ctx, "new"); !ok {
		t.Error("new entry should be present")
	}
}

func TestStatsCountsEvictions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(&MemoryStoreConfig{MaxEntries: 2})
	now := time.Now()
	s.clock = func() time.Time { return now }
	c := New(&Config{Store: s})

	c.SetTTL(ctx, "a", []byte("v"), time.Hour)
	now = now.Add(time.Second)
	c.SetTTL(ctx, "b", []byte("v"), time.Minute)
	now = now.Add(time.Second)
	c.SetTTL(ctx, "c", []byte("v"), time.Hour) // pushes out LRU "a"

	if got := c.Stats(ctx).Evictions; got != 1 {
		t.Fatalf("evictions after LRU pressure = %d, want 1", got)
	}

	// Lazy TTL expiry on Get counts too.
	now = now.Add(time.Hour)
	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Fatal("expected miss after TTL")
	}
	if got := c.Stats(ctx).Evictions; got != 2 {
		t.Errorf("evictions after lazy expiry = %d, want 2", got)
	}
}

// failingStore simulates a backend outage.
type failingStore struct{ fail bool }

func (f *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	if f.fail {
		return nil, false, errors.New("backend down")
	}
	return nil, false, nil
}
func (f *failingStore) Set(context.Context, string, []byte, time.Duration) error {
	if f.fail {
		return errors.New("backend down")
	}
	return nil
}
func (f *failingStore) Delete(context.Context, string) error { return nil }
func (f *failingStore) Clear(context.Context) error          { return nil }
func (f *failingStore) Len(context.Context) (int, error)     { return 0, nil }
func (f *failingStore) Name() string                         { return "failing" }
func (f *failingStore) Close() error                         { return nil }

func TestCacheFallsBackToMemoryOnBackendError(t *testing.T) {
	ctx := context.Background()
	backend := &failingStore{fail: true}
	c := New(&Config{Store: backend})

	// Writes land in the in-process fallback, reads come back from it,
	// and each call reports which backend served it.
	if served := c.Set(ctx, "k", []byte("v")); served != "memory" {
		t.Errorf("degraded set should report fallback backend, got %q", served)
	}
	val, ok, served := c.Get(ctx, "k")
	if !ok || string(val) != "v" {
		t.Fatalf("fallback should serve the value, ok=%v val=%q", ok, val)
	}
	if served != "memory" {
		t.Errorf("degraded get should report fallback backend, got %q", served)
	}
	if c.Healthy() {
		t.Error("cache should be unhealthy while primary fails")
	}

	backend.fail = false
	if _, _, served := c.Get(ctx, "other"); served != "failing" {
		t.Errorf("recovered get should report primary backend, got %q", served)
	}
	if !c.Healthy() {
		t.Error("health should recover after a successful primary call")
	}

	stats := c.Stats(ctx)
	if stats.Errors == 0 || stats.FallbackCalls == 0 {
		t.Errorf("stats should record degradation: %+v", stats)
	}
}

func TestCacheJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(&Config{Store: NewMemoryStore(nil)})

	type payload struct {
		Topic string  `json:"topic"`
		Score float64 `json:"score"`
	}
	c.SetJSON(ctx, "k", payload{Topic: "revenue", Score: 0.9})

	var out payload
	if !c.GetJSON(ctx, "k", &out) {
		t.Fatal("expected hit")
	}
	if out.Topic != "revenue" || out.Score != 0.9 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestCacheDropsCorruptJSON(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	c := New(&Config{Store: store})
	_ = store.Set(ctx, "k", []byte("{not json"), 0)

	var out map[string]any
	if c.GetJSON(ctx, "k", &out) {
		t.Fatal("corrupt entry should be a miss")
	}
	if _, ok, err := store.Get(ctx, "k"); err != nil || ok {
		t.Error("corrupt entry should be deleted")
	}
}

func TestNormalizeTopic(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"What was the Revenue in 2023?", "2023 revenue"},
		{"revenue   2023", "2023 revenue"},
		{"EBITDA-margin (adjusted)", "adjusted ebitda margin"},
		{"Tell me about customer churn!", "churn customer"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeTopic(tc.in); got != tc.want {
			t.Errorf("NormalizeTopic(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeTopicWordOrderVariantsCollide(t *testing.T) {
	if NormalizeTopic("Q3 revenue") != NormalizeTopic("revenue Q3") {
		t.Error("word-order variants must share a cache key")
	}
}

func TestToolResultCacheScopedByDeal(t *testing.T) {
	ctx := context.Background()
	trc := NewToolResultCache(New(&Config{Store: NewMemoryStore(nil)}))
	args := []byte(`{"query":"revenue"}`)

	trc.Put(ctx, "deal-1", "search_documents", args, "full text", "short")

	if _, ok := trc.Get(ctx, "deal-2", "search_documents", args); ok {
		t.Error("results must not leak across deals")
	}
	res, ok := trc.Get(ctx, "deal-1", "search_documents", args)
	if !ok {
		t.Fatal("expected hit for owning deal")
	}
	if res.Full != "full text" || res.Summary != "short" {
		t.Errorf("unexpected result %+v", res)
	}

	trc.Invalidate(ctx, "deal-1", "search_documents", args)
	if _, ok := trc.Get(ctx, "deal-1", "search_documents", args); ok {
		t.Error("expected miss after invalidation")
	}
}

func TestToolResultCacheInvalidateDealRetiresReads(t *testing.T) {
	ctx := context.Background()
	trc := NewToolResultCache(New(&Config{Store: NewMemoryStore(nil)}))
	args := []byte(`{}`)

	trc.Put(ctx, "deal-1", "list_qa_entries", args, "[]", "0 entries")
	ref := trc.Key(ctx, "deal-1", "list_qa_entries", args)

	trc.InvalidateDeal(ctx, "deal-1")
	if _, ok := trc.Get(ctx, "deal-1", "list_qa_entries", args); ok {
		t.Error("read served a pre-invalidation result")
	}

	// The reference minted before the bump still resolves; it embeds
	// the generation it was written under.
	res, ok := trc.GetByRef(ctx, ref)
	if !ok || res.Full != "[]" {
		t.Errorf("GetByRef after bump: ok=%v res=%+v", ok, res)
	}

	// Fresh writes land under the new generation and are served again.
	trc.Put(ctx, "deal-1", "list_qa_entries", args, `["q1"]`, "1 entries")
	res, ok = trc.Get(ctx, "deal-1", "list_qa_entries", args)
	if !ok || res.Full != `["q1"]` {
		t.Errorf("post-bump write not served: ok=%v res=%+v", ok, res)
	}

	// Other deals keep their generation.
	trc.Put(ctx, "deal-2", "list_qa_entries", args, "[]", "0 entries")
	trc.InvalidateDeal(ctx, "deal-1")
	if _, ok := trc.Get(ctx, "deal-2", "list_qa_entries", args); !ok {
		t.Error("invalidation leaked across deals")
	}
}

func TestToolResultCacheGetByRefRejectsForeignKeys(t *testing.T) {
	ctx := context.Background()
	trc := NewToolResultCache(New(&Config{Store: NewMemoryStore(nil)}))

	trc.InvalidateDeal(ctx, "deal-1")
	if _, ok := trc.GetByRef(ctx, "toolgen/deal-1"); ok {
		t.Error("generation key must not resolve as a result")
	}
	if _, ok := trc.GetByRef(ctx, "retrieval/deal-1/revenue"); ok {
		t.Error("non-tool keys must not resolve")
	}
}
