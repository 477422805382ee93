// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dealdesk/dealdesk/services/agent/cache"
	"github.com/dealdesk/dealdesk/services/agent/datatypes"
)

// Result is what one retrieval pass produces. It never carries a hard
// failure: backend errors are recorded in Errors and the remaining
// fields hold whatever the surviving backends returned.
type Result struct {
	// Sources is ranked, deduplicated, and trimmed to the token
	// budget.
	Sources []datatypes.SourceCitation `json:"sources"`

	// Context is the prompt-ready rendering of Sources.
	Context string `json:"context"`

	// Topics are the normalized topic terms extracted from the query.
	Topics []string `json:"topics"`

	// CacheHit is true when the pass was served from the topic cache
	// without touching any backend.
	CacheHit bool `json:"cache_hit"`

	// Errors lists backends that failed during the pass, all
	// recoverable.
	Errors []*datatypes.AgentError `json:"errors,omitempty"`

	// Duration is the wall time of the pass.
	Duration time.Duration `json:"-"`
}

// Node is the retrieval stage of the execution graph.
//
// Thread Safety: Safe for concurrent use.
type Node struct {
	backends   []Backend
	cache      *cache.Cache
	budget     int
	perBackend int
	timeout    time.Duration
	logger     *slog.Logger
}

// NodeConfig configures the retrieval node.
type NodeConfig struct {
	// Backends are queried in order. At least one is required.
	Backends []Backend

	// Cache is the topic-keyed result cache. Optional; nil disables
	// caching.
	Cache *cache.Cache

	// BudgetTokens bounds the rendered context. Default: 2000.
	BudgetTokens int

	// PerBackendLimit caps candidates per backend. Default: 10.
	PerBackendLimit int

	// PerBackendTimeout bounds each backend search so one slow backend
	// cannot stall the turn. Default: 10s.
	PerBackendTimeout time.Duration

	// Logger. If nil, uses slog.Default().
	Logger *slog.Logger
}

// NewNode creates a retrieval node.
func NewNode(config *NodeConfig) *Node {
	budget := config.BudgetTokens
	if budget <= 0 {
		budget = 2000
	}
	perBackend := config.PerBackendLimit
	if perBackend <= 0 {
		perBackend = 10
	}
	timeout := config.PerBackendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		backends:   config.Backends,
		cache:      config.Cache,
		budget:     budget,
		perBackend: perBackend,
		timeout:    timeout,
		logger:     logger,
	}
}

// cachedResult is the serialized form stored under the topic key.
type cachedResult struct {
	Sources []datatypes.SourceCitation `json:"sources"`
	Context string                     `json:"context"`
}

// Retrieve runs one retrieval pass for the query within the deal
// scope. It completes without a hard error even when every backend is
// down; callers inspect Result.Errors for degradation.
func (n *Node) Retrieve(ctx context.Context, dealID, query string) *Result {
	start := time.Now()
	topic := cache.NormalizeTopic(query)
	res := &Result{Topics: strings.Fields(topic)}

	if topic == "" {
		res.Duration = time.Since(start)
		return res
	}

	key := "retrieval/" + dealID + "/" + topic
	if n.cache != nil {
		var hit cachedResult
		if n.cache.GetJSON(ctx, key, &hit) {
			res.Sources = hit.Sources
			res.Context = hit.Context
			res.CacheHit = true
			res.Duration = time.Since(start)
			return res
		}
	}

	var candidates []datatypes.SourceCitation
	for _, backend := range n.backends {
		searchCtx, cancel := context.WithTimeout(ctx, n.timeout)
		found, err := backend.Search(searchCtx, SearchQuery{
			DealID: dealID,
			Topic:  topic,
			Limit:  n.perBackend,
		})
		cancel()
		if err != nil {
			// Degrade, never abort: the turn proceeds on whatever the
			// other backends produced.
			n.logger.Warn("retrieval backend failed",
				slog.String("backend", backend.Name()),
				slog.String("deal_id", dealID),
				slog.Any("error", err),
			)
			res.Errors = append(res.Errors,
				datatypes.WrapAgentError(datatypes.ErrCodeRetrieval,
					"backend "+backend.Name()+" unavailable", true, err))
			continue
		}
		candidates = append(candidates, found...)
	}

	ranked := MergeRank(candidates)
	res.Context, res.Sources = FormatContext(ranked, n.budget)
	res.Duration = time.Since(start)

	// Cache only clean, non-empty passes so a backend outage does not
	// pin an empty result for the TTL.
	if n.cache != nil && len(res.Errors) == 0 && len(res.Sources) > 0 {
		n.cache.SetJSON(ctx, key, cachedResult{Sources: res.Sources, Context: res.Context})
	}
	return res
}

// MergeRank deduplicates candidates by stable identity (document plus
// location) keeping the highest-relevance copy, then sorts by
// relevance descending with retrieval recency breaking ties.
func MergeRank(candidates []datatypes.SourceCitation) []datatypes.SourceCitation {
	best := map[string]datatypes.SourceCitation{}
	for _, c := range candidates {
		id := c.Identity()
		prev, ok := best[id]
		if !ok || c.Relevance > prev.Relevance ||
			(c.Relevance == prev.Relevance && c.RetrievedAt.After(prev.RetrievedAt)) {
			best[id] = c
		}
	}

	out := make([]datatypes.SourceCitation, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].RetrievedAt.After(out[j].RetrievedAt)
	})
	return out
}
