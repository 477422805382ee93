// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config holds the agent's tuning knobs. Values load from an
// optional JSON file with environment overrides, and a file watcher
// hot-reloads them without a restart.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Tuning is the full set of runtime-adjustable parameters. Zero
// values are replaced by defaults on load.
type Tuning struct {
	// --- Cache ---

	// CacheTTL is the default entry lifetime for the shared cache.
	CacheTTL time.Duration `json:"cache_ttl"`

	// CacheMaxEntries bounds the in-process cache backend.
	CacheMaxEntries int `json:"cache_max_entries"`

	// --- Retrieval ---

	// RetrievalBudgetTokens caps the rendered context block.
	RetrievalBudgetTokens int `json:"retrieval_budget_tokens"`

	// RetrievalPerBackendLimit caps results requested per backend.
	RetrievalPerBackendLimit int `json:"retrieval_per_backend_limit"`

	// RetrievalBackendTimeout bounds each backend search.
	RetrievalBackendTimeout time.Duration `json:"retrieval_backend_timeout"`

	// --- Uncertainty ---

	// UncertaintyStrong is the mean relevance above which sources are
	// treated as strong support.
	UncertaintyStrong float64 `json:"uncertainty_strong"`

	// UncertaintyModerate is the mean relevance above which support is
	// moderate rather than weak.
	UncertaintyModerate float64 `json:"uncertainty_moderate"`

	// UncertaintyWeak is the floor: at or below it, support is graded
	// high-uncertainty.
	UncertaintyWeak float64 `json:"uncertainty_weak"`

	// --- Summarization ---

	// SummarizeAfterMessages triggers compression past this count.
	SummarizeAfterMessages int `json:"summarize_after_messages"`

	// SummarizeAfterTokens triggers compression past this estimate.
	SummarizeAfterTokens int `json:"summarize_after_tokens"`

	// SummarizeKeepRecent is how many trailing messages stay verbatim.
	SummarizeKeepRecent int `json:"summarize_keep_recent"`

	// --- Supervisor ---

	// SupervisorMaxIterations bounds tool rounds per turn.
	SupervisorMaxIterations int `json:"supervisor_max_iterations"`

	// ToolSummaryFloor is the result size in bytes above which only
	// the summary re-enters the model context.
	ToolSummaryFloor int `json:"tool_summary_floor"`

	// --- Stream ---

	// StreamBuffer is the event channel buffer per turn.
	StreamBuffer int `json:"stream_buffer"`
}

// Default returns the production defaults.
func Default() Tuning {
	return Tuning{
		CacheTTL:                 15 * time.Minute,
		CacheMaxEntries:          2048,
		RetrievalBudgetTokens:    2000,
		RetrievalPerBackendLimit: 10,
		RetrievalBackendTimeout:  10 * time.Second,
		UncertaintyStrong:        0.7,
		UncertaintyModerate:      0.5,
		UncertaintyWeak:          0.3,
		SummarizeAfterMessages:   20,
		SummarizeAfterTokens:     3000,
		SummarizeKeepRecent:      4,
		SupervisorMaxIterations:  6,
		ToolSummaryFloor:         600,
		StreamBuffer:             64,
	}
}

// normalized fills zero fields with defaults and clamps nonsense.
func (t Tuning) normalized() Tuning {
	def := Default()
	if t.CacheTTL <= 0 {
		t.CacheTTL = def.CacheTTL
	}
	if t.CacheMaxEntries <= 0 {
		t.CacheMaxEntries = def.CacheMaxEntries
	}
	if t.RetrievalBudgetTokens <= 0 {
		t.RetrievalBudgetTokens = def.RetrievalBudgetTokens
	}
	if t.RetrievalPerBackendLimit <= 0 {
		t.RetrievalPerBackendLimit = def.RetrievalPerBackendLimit
	}
	if t.RetrievalBackendTimeout <= 0 {
		t.RetrievalBackendTimeout = def.RetrievalBackendTimeout
	}
	if t.UncertaintyStrong <= 0 || t.UncertaintyStrong > 1 {
		t.UncertaintyStrong = def.UncertaintyStrong
	}
	if t.UncertaintyModerate <= 0 || t.UncertaintyModerate >= t.UncertaintyStrong {
		t.UncertaintyModerate = def.UncertaintyModerate
	}
	if t.UncertaintyWeak <= 0 || t.UncertaintyWeak >= t.UncertaintyModerate {
		t.UncertaintyWeak = def.UncertaintyWeak
	}
	if t.SummarizeAfterMessages <= 0 {
		t.SummarizeAfterMessages = def.SummarizeAfterMessages
	}
	if t.SummarizeAfterTokens <= 0 {
		t.SummarizeAfterTokens = def.SummarizeAfterTokens
	}
	if t.SummarizeKeepRecent <= 0 {
		t.SummarizeKeepRecent = def.SummarizeKeepRecent
	}
	if t.SupervisorMaxIterations <= 0 {
		t.SupervisorMaxIterations = def.SupervisorMaxIterations
	}
	if t.ToolSummaryFloor <= 0 {
		t.ToolSummaryFloor = def.ToolSummaryFloor
	}
	if t.StreamBuffer <= 0 {
		t.StreamBuffer = def.StreamBuffer
	}
	return t
}

// Load reads tuning from a JSON file and applies environment
// overrides. A missing file is not an error; defaults apply.
//
// Environment overrides:
//   - DEALDESK_CACHE_TTL: Go duration string, e.g. "10m"
//   - DEALDESK_RETRIEVAL_BUDGET_TOKENS: integer
//   - DEALDESK_SUPERVISOR_MAX_ITERATIONS: integer
func Load(path string) (Tuning, error) {
	t := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults
		case err != nil:
			return Tuning{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := json.Unmarshal(raw, &t); err != nil {
				return Tuning{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("DEALDESK_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Tuning{}, fmt.Errorf("DEALDESK_CACHE_TTL: %w", err)
		}
		t.CacheTTL = d
	}
	if v := os.Getenv("DEALDESK_RETRIEVAL_BUDGET_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Tuning{}, fmt.Errorf("DEALDESK_RETRIEVAL_BUDGET_TOKENS: %w", err)
		}
		t.RetrievalBudgetTokens = n
	}
	if v := os.Getenv("DEALDESK_SUPERVISOR_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Tuning{}, fmt.Errorf("DEALDESK_SUPERVISOR_MAX_ITERATIONS: %w", err)
		}
		t.SupervisorMaxIterations = n
	}

	return t.normalized(), nil
}

// Holder is a hot-swappable tuning snapshot. Readers get a consistent
// copy; Replace installs a new one atomically.
//
// Thread Safety: Safe for concurrent use.
type Holder struct {
	mu      sync.RWMutex
	current Tuning
}

// NewHolder creates a holder seeded with the given tuning.
func NewHolder(t Tuning) *Holder {
	return &Holder{current: t.normalized()}
}

// Current returns the active tuning snapshot.
func (h *Holder) Current() Tuning {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Replace installs a new snapshot.
func (h *Holder) Replace(t Tuning) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = t.normalized()
}
