// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dealdesk/dealdesk/services/agent/cache"
	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/graph"
	"github.com/dealdesk/dealdesk/services/agent/stream"
	"github.com/dealdesk/dealdesk/services/agent/uncertainty"
	"github.com/dealdesk/dealdesk/services/llm"
)

// Scratchpad keys written by the retrieval stage and read here.
const (
	// ScratchRetrievalContext holds the rendered source block.
	ScratchRetrievalContext = "retrieval_context"

	// ScratchSummarizedThrough counts how many leading messages the
	// history summary already covers; those stay out of the prompt.
	ScratchSummarizedThrough = "summarized_through"

	// ScratchUncertainty holds the retrieval confidence level.
	ScratchUncertainty = "uncertainty_level"

	// ScratchProvider records which model provider served the last
	// completed round, for the turn completion event.
	ScratchProvider = "llm_provider"
)

// Supervisor drives the tool-calling loop for chat and IRL turns.
//
// Thread Safety: Safe for concurrent use; per-turn data stays on the
// stack.
type Supervisor struct {
	client        llm.LLMClient
	registry      *Registry
	toolCache     *cache.ToolResultCache
	maxIterations int
	summaryFloor  int
	logger        *slog.Logger
}

// Config configures a Supervisor.
type Config struct {
	// Client is the (failover-wrapped) model client. Required.
	Client llm.LLMClient

	// Registry is the bound tool set. Required.
	Registry *Registry

	// ToolCache stores full tool results out-of-band. Optional.
	ToolCache *cache.ToolResultCache

	// MaxIterations bounds tool-call rounds per turn. Default: 6.
	MaxIterations int

	// SummaryFloor is the full-result size in bytes above which only
	// the compact summary re-enters the LLM context. Default: 600.
	SummaryFloor int

	// Logger. If nil, uses slog.Default().
	Logger *slog.Logger
}

// New creates a Supervisor.
func New(config *Config) *Supervisor {
	maxIter := config.MaxIterations
	if maxIter <= 0 {
		maxIter = 6
	}
	floor := config.SummaryFloor
	if floor <= 0 {
		floor = 600
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		client:        config.Client,
		registry:      config.Registry,
		toolCache:     config.ToolCache,
		maxIterations: maxIter,
		summaryFloor:  floor,
		logger:        logger,
	}
}

// Node adapts the supervisor into a graph node.
func (s *Supervisor) Node() graph.NodeFunc {
	return func(ctx context.Context, turn *graph.Turn, st *datatypes.State) (*datatypes.Delta, error) {
		return s.run(ctx, turn, st)
	}
}

func (s *Supervisor) run(ctx context.Context, turn *graph.Turn, st *datatypes.State) (*datatypes.Delta, error) {
	// A turn arriving with an unresolved approval waits for the
	// decision; the model is not consulted again.
	if st.PendingApproval != nil {
		turn.Emit(stream.Event{Type: stream.EventApprovalRequired, Approval: st.PendingApproval})
		return &datatypes.Delta{}, nil
	}

	dealID := turn.Thread.DealID
	messages := s.buildContext(st)
	delta := &datatypes.Delta{}

	for iter := 0; iter < s.maxIterations; iter++ {
		resp, err := s.client.ChatStream(ctx, &llm.ChatRequest{
			Messages: messages,
			Tools:    s.registry.Definitions(),
		}, func(token string) error {
			if !turn.Emit(stream.Event{Type: stream.EventToken, Token: token}) {
				return context.Canceled
			}
			return nil
		})
		if err != nil {
			return delta, datatypes.WrapAgentError(datatypes.ErrCodeLLMFailure,
				"model call failed after provider fallback", false, err)
		}

		assistant := llm.ChatMessage{
			ID:        uuid.NewString(),
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistant)
		delta.Messages = append(delta.Messages, assistant)
		if resp.Provider != "" {
			if delta.Scratchpad == nil {
				delta.Scratchpad = make(map[string]any)
			}
			delta.Scratchpad[ScratchProvider] = resp.Provider
		}

		if len(resp.ToolCalls) == 0 {
			return delta, nil
		}

		// Tool results are incorporated strictly in call order so the
		// transcript the model sees is deterministic.
		pause, toolMsgs := s.executeCalls(ctx, dealID, resp.ToolCalls, delta)
		messages = append(messages, toolMsgs...)
		delta.Messages = append(delta.Messages, toolMsgs...)
		if pause != nil {
			delta.PendingApproval = pause
			turn.Emit(stream.Event{Type: stream.EventApprovalRequired, Approval: pause})
			return delta, nil
		}
	}

	return delta, datatypes.NewAgentError(datatypes.ErrCodeInternal,
		fmt.Sprintf("supervisor exceeded %d tool rounds", s.maxIterations), false)
}

// executeCalls runs each call in order. The first approval-producing
// call wins the pending slot; later calls in the same round are
// deferred to the post-approval turn rather than racing the slot.
func (s *Supervisor) executeCalls(ctx context.Context, dealID string, calls []llm.ToolCall, delta *datatypes.Delta) (*datatypes.ApprovalRequest, []llm.ChatMessage) {
	var msgs []llm.ChatMessage
	for _, call := range calls {
		out, err := s.execute(ctx, dealID, call)
		if err != nil {
			ae := datatypes.AsAgentError(err)
			delta.Errors = append(delta.Errors, *ae)
			s.logger.Warn("tool call failed",
				"tool", call.Name,
				"code", ae.Code)
			// The model gets the rejection and can correct itself on
			// the next round; the invalid input never reaches a
			// service.
			msgs = append(msgs, toolMessage(call, "error: "+ae.Message))
			continue
		}
		if out.Approval != nil {
			msgs = append(msgs, toolMessage(call, "awaiting user approval: "+out.Approval.Summary))
			return out.Approval, msgs
		}
		msgs = append(msgs, toolMessage(call, s.contextPayload(ctx, dealID, call, out)))
	}
	return nil, msgs
}

// execute runs one call, serving deterministic reads from the tool
// cache. A mutating tool is never cached and retires the deal's cached
// reads on success, so a list after a write sees the write.
func (s *Supervisor) execute(ctx context.Context, dealID string, call llm.ToolCall) (Output, error) {
	args := []byte(call.Arguments)
	mutates := s.registry.Mutates(call.Name)
	if s.toolCache != nil && !mutates {
		if hit, ok := s.toolCache.Get(ctx, dealID, call.Name, args); ok {
			return Output{Full: hit.Full, Summary: hit.Summary}, nil
		}
	}
	out, err := s.registry.Execute(ctx, dealID, call)
	if err != nil {
		return Output{}, err
	}
	if s.toolCache != nil && out.Approval == nil {
		if mutates {
			s.toolCache.InvalidateDeal(ctx, dealID)
		} else {
			s.toolCache.Put(ctx, dealID, call.Name, args, out.Full, out.Summary)
		}
	}
	return out, nil
}

// contextPayload decides what re-enters the LLM context: small results
// verbatim, large ones as their compact summary with the full payload
// parked in the tool cache for out-of-band fetch. Mutating tools are
// never cached, so their oversized results carry no reference.
func (s *Supervisor) contextPayload(ctx context.Context, dealID string, call llm.ToolCall, out Output) string {
	if len(out.Full) <= s.summaryFloor {
		return out.Full
	}
	if s.toolCache != nil && !s.registry.Mutates(call.Name) {
		key := s.toolCache.Key(ctx, dealID, call.Name, []byte(call.Arguments))
		return fmt.Sprintf("%s (full result stored, ref %s)", out.Summary, key)
	}
	return out.Summary
}

func toolMessage(call llm.ToolCall, content string) llm.ChatMessage {
	return llm.ChatMessage{
		ID:         uuid.NewString(),
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
	}
}

// buildContext assembles the prompt: system instructions, compressed
// history summary, retrieval context, then the live message window.
func (s *Supervisor) buildContext(st *datatypes.State) []llm.ChatMessage {
	var sys strings.Builder
	sys.WriteString("You are a due-diligence analyst assistant for an M&A deal. ")
	sys.WriteString("Ground every figure in the provided sources and cite them. ")
	sys.WriteString("Use the tools to query deal knowledge before answering from memory.")

	if st.DealContext != nil {
		fmt.Fprintf(&sys, "\n\nDeal: %s (%d documents, status %s).",
			st.DealContext.DealName, st.DealContext.DocumentCount, st.DealContext.Status)
	}
	if st.HistorySummary != "" {
		sys.WriteString("\n\nEarlier conversation summary:\n")
		sys.WriteString(st.HistorySummary)
	}
	if rc, ok := st.Scratchpad[ScratchRetrievalContext].(string); ok && rc != "" {
		sys.WriteString("\n\nRetrieved source material:\n")
		sys.WriteString(rc)
	}
	if lvl, ok := st.Scratchpad[ScratchUncertainty].(string); ok {
		level := uncertainty.Level(lvl)
		switch level {
		case uncertainty.LevelMedium, uncertainty.LevelHigh:
			sys.WriteString("\n\nSource coverage for this question is weak. ")
			sys.WriteString("State what the documents do not establish rather than guessing.")
		case uncertainty.LevelComplete:
			sys.WriteString("\n\nNo sources were found for this question. ")
			sys.WriteString("Say so plainly instead of answering from memory.")
		}
		hasDocs := st.DealContext != nil && st.DealContext.DocumentCount > 0
		if steps := uncertainty.GenerateNextSteps(level, hasDocs); len(steps) > 0 {
			sys.WriteString("\n\nClose your answer by suggesting these next steps to the user:")
			for _, step := range steps {
				sys.WriteString("\n- " + step)
			}
		}
	}

	// Messages already folded into the history summary stay out of
	// the prompt. JSON round-trips numbers as float64.
	live := st.Messages
	if st.HistorySummary != "" {
		if n, ok := scratchInt(st.Scratchpad[ScratchSummarizedThrough]); ok && n > 0 && n < len(live) {
			live = live[n:]
		}
	}

	messages := make([]llm.ChatMessage, 0, len(live)+1)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: sys.String()})
	messages = append(messages, live...)
	return messages
}

func scratchInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
