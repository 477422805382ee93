// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package eval replays fixed scenarios against a fully wired agent
// and checks behaviors that regressed at least once: compound-intent
// classification, impossible next-step suggestions, correction
// persistence, topic cache normalization, and response honesty. The
// checks are deterministic; the model client is the only variable
// part and scenario checks avoid asserting on free-form content.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/graph"
	"github.com/dealdesk/dealdesk/services/agent/handlers"
	"github.com/dealdesk/dealdesk/services/llm"
)

// Result is the outcome of one check.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// Summary aggregates a harness run.
type Summary struct {
	Results []Result `json:"results"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
}

// Check is one named evaluation against the wired agent.
type Check struct {
	Name string
	Run  func(ctx context.Context, h *Harness) error
}

// Harness drives checks against an App. Each check gets fresh
// conversation identifiers so thread state never leaks across checks.
type Harness struct {
	App    *handlers.App
	Logger *slog.Logger

	dealID string
}

// New creates a harness over a wired App. The app's store must
// contain the deal the scenarios run against.
func New(app *handlers.App, dealID string, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{App: app, Logger: logger, dealID: dealID}
}

// Turn runs one conversational turn to completion and returns the
// final state. Each call uses the conversation id verbatim, so
// repeated calls with the same id continue the same thread.
func (h *Harness) Turn(ctx context.Context, conversationID, message string) (*datatypes.State, error) {
	thread, err := datatypes.NewThreadID(datatypes.ModeChat, h.dealID, "eval-user", conversationID)
	if err != nil {
		return nil, err
	}
	compiled, err := h.App.Graph()
	if err != nil {
		return nil, err
	}
	return compiled.Invoke(ctx, &graph.Turn{
		Thread: thread,
		UserMessage: llm.ChatMessage{
			ID:      uuid.NewString(),
			Role:    llm.RoleUser,
			Content: message,
		},
	})
}

// conversation returns a fresh conversation id namespaced to a check.
func conversation(check string) string {
	return fmt.Sprintf("eval-%s-%s", check, uuid.NewString()[:8])
}

// finalResponse returns the content of the last assistant message.
func finalResponse(st *datatypes.State) string {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == llm.RoleAssistant {
			return st.Messages[i].Content
		}
	}
	return ""
}

// Run executes every check and aggregates the outcome. A check
// failure does not stop the run.
func (h *Harness) Run(ctx context.Context) Summary {
	var summary Summary
	for _, check := range Checks() {
		start := time.Now()
		err := check.Run(ctx, h)
		res := Result{
			Name:     check.Name,
			Passed:   err == nil,
			Duration: time.Since(start),
		}
		if err != nil {
			res.Detail = err.Error()
			summary.Failed++
			h.Logger.Warn("evaluation check failed",
				slog.String("check", check.Name),
				slog.String("detail", err.Error()))
		} else {
			summary.Passed++
			h.Logger.Info("evaluation check passed",
				slog.String("check", check.Name))
		}
		summary.Results = append(summary.Results, res)
	}
	return summary
}
