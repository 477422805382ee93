// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eval

import (
	"context"
	"fmt"
	"strings"

	"github.com/dealdesk/dealdesk/services/agent/supervisor"
	"github.com/dealdesk/dealdesk/services/agent/uncertainty"
)

// Checks returns the full fixed check set in execution order.
func Checks() []Check {
	return []Check{
		{Name: "compound_intent_retrieves", Run: checkCompoundIntent},
		{Name: "greeting_skips_backends", Run: checkGreetingSkips},
		{Name: "no_impossible_next_steps", Run: checkNextSteps},
		{Name: "correction_persists", Run: checkCorrectionPersists},
		{Name: "topic_cache_normalization", Run: checkCacheNormalization},
		{Name: "response_honesty", Run: checkResponseHonesty},
	}
}

// checkCompoundIntent guards against a greeting prefix swallowing a
// substantive question. "Hi, what was the revenue?" must run
// retrieval, not short-circuit as small talk.
func checkCompoundIntent(ctx context.Context, h *Harness) error {
	st, err := h.Turn(ctx, conversation("compound"), "Hi, what was the FY2025 revenue?")
	if err != nil {
		return err
	}
	if st.Retrieval == nil {
		return fmt.Errorf("compound utterance classified as small talk, retrieval never ran")
	}
	return nil
}

// checkGreetingSkips is the inverse guard: a bare greeting must not
// touch the retrieval backends or attach sources.
func checkGreetingSkips(ctx context.Context, h *Harness) error {
	st, err := h.Turn(ctx, conversation("greeting"), "Good morning!")
	if err != nil {
		return err
	}
	if st.Retrieval != nil {
		return fmt.Errorf("greeting triggered a retrieval pass")
	}
	if len(st.Sources) != 0 {
		return fmt.Errorf("greeting attached %d sources", len(st.Sources))
	}
	return nil
}

// checkNextSteps verifies no suggested action is impossible in
// context: with zero documents uploaded, "search additional sources"
// must never be offered.
func checkNextSteps(_ context.Context, _ *Harness) error {
	levels := []uncertainty.Level{
		uncertainty.LevelComplete,
		uncertainty.LevelHigh,
		uncertainty.LevelMedium,
		uncertainty.LevelLow,
	}
	for _, level := range levels {
		for _, step := range uncertainty.GenerateNextSteps(level, false) {
			if strings.Contains(strings.ToLower(step), "search") {
				return fmt.Errorf("level %s with no documents suggests searching: %q", level, step)
			}
		}
	}
	return nil
}

// checkCorrectionPersists verifies a user-approved correction
// replaces the prior fact rather than coexisting with it.
func checkCorrectionPersists(ctx context.Context, h *Harness) error {
	kb := h.App.Services.Knowledge
	dealID := h.dealID

	original, err := kb.Upsert(ctx, dealID, supervisor.Fact{
		Topic:     "eval correction topic",
		Statement: "Headcount is 120.",
	})
	if err != nil {
		return err
	}
	if _, err := kb.Upsert(ctx, dealID, supervisor.Fact{
		ID:        original.ID,
		Topic:     "eval correction topic",
		Statement: "Headcount is 135 after the January hires.",
	}); err != nil {
		return err
	}

	facts, err := kb.Query(ctx, dealID, "eval correction topic")
	if err != nil {
		return err
	}
	sawCorrected := false
	for _, f := range facts {
		if strings.Contains(f.Statement, "120") {
			return fmt.Errorf("stale fact survived the correction: %q", f.Statement)
		}
		if strings.Contains(f.Statement, "135") {
			sawCorrected = true
		}
	}
	if !sawCorrected {
		return fmt.Errorf("corrected fact missing from the store")
	}
	return nil
}

// checkCacheNormalization verifies two phrasings of the same topic
// share one cache entry: the second turn must be served without a
// live backend pass.
func checkCacheNormalization(ctx context.Context, h *Harness) error {
	first, err := h.Turn(ctx, conversation("cache-a"), "What was the revenue?")
	if err != nil {
		return err
	}
	if first.Retrieval == nil {
		return fmt.Errorf("first phrasing skipped retrieval")
	}
	if len(first.Sources) == 0 {
		return fmt.Errorf("first phrasing found no sources; seed the deal with revenue documents")
	}

	second, err := h.Turn(ctx, conversation("cache-b"), "Tell me about the revenue")
	if err != nil {
		return err
	}
	if second.Retrieval == nil {
		return fmt.Errorf("second phrasing skipped retrieval")
	}
	if !second.Retrieval.CacheHit {
		return fmt.Errorf("second phrasing missed the cache; topics %v vs %v",
			first.Retrieval.Topics, second.Retrieval.Topics)
	}
	return nil
}

// checkResponseHonesty lints the final response of a grounded turn
// for hedging language and unsourced monetary figures.
func checkResponseHonesty(ctx context.Context, h *Harness) error {
	st, err := h.Turn(ctx, conversation("honesty"), "What was the revenue?")
	if err != nil {
		return err
	}
	response := finalResponse(st)
	if response == "" {
		return fmt.Errorf("turn produced no assistant response")
	}
	flags := uncertainty.ValidateResponseHonesty(response)
	if len(flags) > 0 {
		return fmt.Errorf("response failed honesty lint: %+v", flags)
	}
	return nil
}
