// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package summarize compresses conversation history once it crosses a
// threshold policy, so long-running deal threads stay inside the model
// context window.
//
// Compression runs a three-tier fallback chain. Tier one asks the LLM
// for a bounded summary. If that fails, tier two extracts topics and
// figures deterministically. If even that produces nothing, tier three
// emits a fixed truncation notice. The caller always gets a summary;
// no tier's failure propagates.
package summarize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dealdesk/dealdesk/services/agent/cache"
	"github.com/dealdesk/dealdesk/services/agent/tokens"
	"github.com/dealdesk/dealdesk/services/llm"
)

// Policy decides when compression triggers. Either threshold firing
// is sufficient.
type Policy struct {
	// MaxMessages triggers on history length. Default: 20.
	MaxMessages int

	// MaxTokens triggers on cumulative estimated tokens.
	// Default: 3000.
	MaxTokens int

	// KeepRecent messages are never summarized away. Default: 4.
	KeepRecent int
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{MaxMessages: 20, MaxTokens: 3000, KeepRecent: 4}
}

func (p Policy) normalized() Policy {
	if p.MaxMessages <= 0 {
		p.MaxMessages = 20
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = 3000
	}
	if p.KeepRecent <= 0 {
		p.KeepRecent = 4
	}
	return p
}

// ShouldSummarize reports whether the history crosses either
// threshold.
func (p Policy) ShouldSummarize(msgs []llm.ChatMessage) bool {
	p = p.normalized()
	if len(msgs) >= p.MaxMessages {
		return true
	}
	return tokens.EstimateMessages(msgs) >= p.MaxTokens
}

// Result is one compression outcome.
type Result struct {
	// Summary is the compressed rendering of the dropped window.
	Summary string `json:"summary"`

	// Kept is the tail of the history that stays verbatim.
	Kept []llm.ChatMessage `json:"-"`

	// Dropped is how many messages the summary replaced.
	Dropped int `json:"dropped"`

	TokensBefore int `json:"tokens_before_summary"`
	TokensAfter  int `json:"tokens_after_summary"`

	// Method is the tier that produced the summary: "llm",
	// "extractive", "truncation_notice", or "cached".
	Method string `json:"method"`
}

// Summarizer runs the fallback chain.
//
// Thread Safety: Safe for concurrent use.
type Summarizer struct {
	client       llm.LLMClient
	cache        *cache.Cache
	policy       Policy
	targetTokens int
	logger       *slog.Logger
}

// Config configures a Summarizer.
type Config struct {
	// Client produces tier-one summaries. Nil skips straight to the
	// deterministic tiers.
	Client llm.LLMClient

	// Cache stores idempotence records. Optional.
	Cache *cache.Cache

	// Policy thresholds. Zero fields take defaults.
	Policy Policy

	// TargetTokens bounds the tier-one summary size. Default: 400.
	TargetTokens int

	// Logger. If nil, uses slog.Default().
	Logger *slog.Logger
}

// New creates a Summarizer.
func New(config *Config) *Summarizer {
	target := config.TargetTokens
	if target <= 0 {
		target = 400
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		client:       config.Client,
		cache:        config.Cache,
		policy:       config.Policy.normalized(),
		targetTokens: target,
		logger:       logger,
	}
}

// Policy returns the active thresholds.
func (s *Summarizer) Policy() Policy { return s.policy }

// Summarize compresses the history if the policy triggers. A nil
// result means no compression was needed. It never returns an error:
// every tier failure falls through to the next.
func (s *Summarizer) Summarize(ctx context.Context, threadID string, msgs []llm.ChatMessage) *Result {
	if !s.policy.ShouldSummarize(msgs) {
		return nil
	}

	keep := s.policy.KeepRecent
	if keep >= len(msgs) {
		return nil
	}
	window := msgs[:len(msgs)-keep]
	kept := msgs[len(msgs)-keep:]
	before := tokens.EstimateMessages(msgs)

	// Idempotence: an unchanged history with an unchanged policy must
	// not re-trigger the LLM tier.
	key := s.idempotenceKey(threadID, msgs)
	if s.cache != nil {
		var cached Result
		if s.cache.GetJSON(ctx, key, &cached) {
			cached.Method = "cached"
			cached.Kept = kept
			return &cached
		}
	}

	summary, method := s.runTiers(ctx, window)

	// Corrections in the dropped window survive compression no matter
	// which tier produced the summary.
	if corrections := extractCorrections(window); len(corrections) > 0 {
		missing := make([]string, 0, len(corrections))
		for _, c := range corrections {
			if !strings.Contains(summary, c) {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			summary = strings.TrimSpace(summary) +
				"\n\nUser corrections to preserve:\n- " + strings.Join(missing, "\n- ")
		}
	}

	res := &Result{
		Summary:      summary,
		Kept:         kept,
		Dropped:      len(window),
		TokensBefore: before,
		TokensAfter:  tokens.EstimateText(summary) + tokens.EstimateMessages(kept),
		Method:       method,
	}
	if s.cache != nil {
		s.cache.SetJSON(ctx, key, res)
	}
	return res
}

func (s *Summarizer) idempotenceKey(threadID string, msgs []llm.ChatMessage) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%d|", threadID, len(msgs), s.policy.MaxMessages, s.policy.MaxTokens)
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		h.Write([]byte(last.Role))
		h.Write([]byte(last.Content))
	}
	return "summary/" + hex.EncodeToString(h.Sum(nil)[:16])
}

func (s *Summarizer) runTiers(ctx context.Context, window []llm.ChatMessage) (string, string) {
	if s.client != nil {
		summary, err := s.llmSummary(ctx, window)
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary, "llm"
		}
		if err != nil {
			s.logger.Warn("summary tier one failed, using extraction",
				slog.Any("error", err),
			)
		}
	}

	if summary := extractiveSummary(window); summary != "" {
		return summary, "extractive"
	}

	return fmt.Sprintf(
		"[Earlier conversation compressed: %d messages omitted.]", len(window),
	), "truncation_notice"
}

func (s *Summarizer) llmSummary(ctx context.Context, window []llm.ChatMessage) (string, error) {
	var transcript strings.Builder
	for _, m := range window {
		if m.Role == llm.RoleTool {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	prompt := fmt.Sprintf(
		"Summarize this due-diligence conversation in at most %d tokens. "+
			"Keep every concrete fact, figure, and decision. If the user "+
			"corrected a fact, state the corrected value explicitly.\n\n%s",
		s.targetTokens, transcript.String(),
	)

	maxTok := s.targetTokens + 50
	resp, err := s.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: prompt}},
		Params:   llm.GenerationParams{MaxTokens: &maxTok},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

var (
	// correctionTriggerRe marks a user message as a fact override.
	// The whole message is preserved, not the matched fragment, so
	// figures like "$5.2M" never get clipped by the pattern.
	correctionTriggerRe = regexp.MustCompile(`(?i)\b(actually|correction|i meant|that is wrong|that's wrong)\b|,\s*not\s`)

	greetingLineRe = regexp.MustCompile(`(?i)^(hi|hey|hello|thanks|thank you|good (morning|afternoon|evening))[.!,\s]*$`)
)

// extractCorrections pulls user fact-overrides out of the window.
// Only user messages can correct facts.
func extractCorrections(window []llm.ChatMessage) []string {
	var out []string
	for _, m := range window {
		if m.Role != llm.RoleUser {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" || greetingLineRe.MatchString(content) {
			continue
		}
		if correctionTriggerRe.MatchString(content) {
			out = append(out, content)
		}
	}
	return out
}

// extractiveSummary is tier two: deterministic, no model involved. It
// keeps substantive user asks and assistant statements with figures,
// and drops social filler.
func extractiveSummary(window []llm.ChatMessage) string {
	figureRe := regexp.MustCompile(`[$€£]?\d[\d,.]*%?`)

	var lines []string
	for _, m := range window {
		content := strings.TrimSpace(m.Content)
		if content == "" || greetingLineRe.MatchString(content) {
			continue
		}
		switch m.Role {
		case llm.RoleUser:
			lines = append(lines, "User asked: "+firstSentence(content))
		case llm.RoleAssistant:
			if figureRe.MatchString(content) {
				lines = append(lines, "Assistant reported: "+firstSentence(content))
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > 12 {
		lines = lines[len(lines)-12:]
	}
	return "Conversation so far:\n- " + strings.Join(lines, "\n- ")
}

// firstSentence cuts at the first sentence end, treating a period
// inside a number ("$4.8M") as part of the figure.
func firstSentence(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '?', '!':
			return s[:i+1]
		case '.':
			if i+1 == len(s) || s[i+1] == ' ' || s[i+1] == '\n' {
				return s[:i+1]
			}
		}
		if i > 240 {
			return s[:i] + "..."
		}
	}
	return s
}
