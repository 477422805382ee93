// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ToolResult is a cached tool execution outcome stored in two
// renditions: Full feeds the model verbatim, Summary is the compact
// form used once the conversation is compressed.
type ToolResult struct {
	Tool     string    `json:"tool"`
	Full     string    `json:"full"`
	Summary  string    `json:"summary"`
	CachedAt time.Time `json:"cached_at"`
}

// ToolResultCache caches deterministic tool results keyed by tool name
// and argument digest, scoped per deal so tenants never share entries.
//
// Each deal carries an invalidation generation that is part of every
// key. Bumping it after a write retires all cached reads for that deal
// at once without enumerating them; retired entries age out on their
// TTL but are never served through Get again. References handed out by
// Key stay resolvable via GetByRef across bumps because they embed the
// generation they were minted under.
//
// Thread Safety: Safe for concurrent use.
type ToolResultCache struct {
	cache *Cache
}

// NewToolResultCache wraps a Cache front for tool results.
func NewToolResultCache(c *Cache) *ToolResultCache {
	return &ToolResultCache{cache: c}
}

// Key derives the cache key. Arguments are digested, not embedded, so
// keys stay bounded regardless of argument size.
func (t *ToolResultCache) Key(ctx context.Context, dealID, tool string, args []byte) string {
	sum := sha256.Sum256(args)
	return fmt.Sprintf("tool/%s/g%d/%s/%s",
		dealID, t.generation(ctx, dealID), tool, hex.EncodeToString(sum[:16]))
}

// Get returns the cached result and true on a hit.
func (t *ToolResultCache) Get(ctx context.Context, dealID, tool string, args []byte) (ToolResult, bool) {
	var res ToolResult
	ok := t.cache.GetJSON(ctx, t.Key(ctx, dealID, tool, args), &res)
	return res, ok
}

// GetByRef resolves a result by the exact key string that Key handed
// out, regardless of the deal's current generation.
func (t *ToolResultCache) GetByRef(ctx context.Context, ref string) (ToolResult, bool) {
	if !strings.HasPrefix(ref, "tool/") {
		return ToolResult{}, false
	}
	var res ToolResult
	ok := t.cache.GetJSON(ctx, ref, &res)
	return res, ok
}

// Put stores a tool result under the cache's default TTL.
func (t *ToolResultCache) Put(ctx context.Context, dealID, tool string, args []byte, full, summary string) {
	t.cache.SetJSON(ctx, t.Key(ctx, dealID, tool, args), ToolResult{
		Tool:     tool,
		Full:     full,
		Summary:  summary,
		CachedAt: time.Now().UTC(),
	})
}

// Invalidate drops a single cached result.
func (t *ToolResultCache) Invalidate(ctx context.Context, dealID, tool string, args []byte) {
	t.cache.Delete(ctx, t.Key(ctx, dealID, tool, args))
}

// InvalidateDeal retires every cached result for the deal by bumping
// its generation. Called after a write tool or an approved action
// changes deal state, so read tools never serve pre-write results.
func (t *ToolResultCache) InvalidateDeal(ctx context.Context, dealID string) {
	next := t.generation(ctx, dealID) + 1
	t.cache.SetTTL(ctx, genKey(dealID), []byte(strconv.FormatInt(next, 10)), 0)
}

// generation returns the deal's current invalidation generation.
// Absent or unreadable means zero, which only risks serving a key
// space that was never written.
func (t *ToolResultCache) generation(ctx context.Context, dealID string) int64 {
	raw, ok, _ := t.cache.Get(ctx, genKey(dealID))
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// genKey lives outside the tool/ prefix so GetByRef cannot reach it.
func genKey(dealID string) string {
	return "toolgen/" + dealID
}
