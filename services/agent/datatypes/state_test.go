// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"
	"time"

	"github.com/dealdesk/dealdesk/services/llm"
)

func TestApplyMessagesAppendAndReplace(t *testing.T) {
	s := NewState(ModeChat)

	if err := s.Apply(&Delta{Messages: []llm.ChatMessage{
		{ID: "m1", Role: llm.RoleUser, Content: "what was revenue in 2023?"},
		{ID: "m2", Role: llm.RoleAssistant, Content: "Revenue was"},
	}}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	// Same ID replaces in place, preserving order.
	if err := s.Apply(&Delta{Messages: []llm.ChatMessage{
		{ID: "m2", Role: llm.RoleAssistant, Content: "Revenue was $12.4M"},
	}}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if len(s.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(s.Messages))
	}
	if s.Messages[1].Content != "Revenue was $12.4M" {
		t.Errorf("message m2 was not replaced: %q", s.Messages[1].Content)
	}
}

func TestApplySourcesAccumulate(t *testing.T) {
	s := NewState(ModeChat)
	src := SourceCitation{DocumentID: "d1", Snippet: "x", Relevance: 0.8}

	for i := 0; i < 3; i++ {
		if err := s.Apply(&Delta{Sources: []SourceCitation{src}}); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
	}
	if len(s.Sources) != 3 {
		t.Errorf("sources should accumulate without dedup, got %d", len(s.Sources))
	}
}

func TestTopSourcesDedupAndRank(t *testing.T) {
	now := time.Now()
	s := NewState(ModeChat)
	s.Sources = []SourceCitation{
		{DocumentID: "d1", Location: "p3", Snippet: "older dup", Relevance: 0.5, RetrievedAt: now},
		{DocumentID: "d2", Location: "p1", Snippet: "strong", Relevance: 0.9, RetrievedAt: now},
		{DocumentID: "d1", Location: "p3", Snippet: "newer dup", Relevance: 0.5, RetrievedAt: now.Add(time.Second)},
		{DocumentID: "d3", Location: "p7", Snippet: "weak", Relevance: 0.2, RetrievedAt: now},
	}

	top := s.TopSources(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(top))
	}
	if top[0].DocumentID != "d2" {
		t.Errorf("expected d2 first, got %s", top[0].DocumentID)
	}
	if top[1].Snippet != "newer dup" {
		t.Errorf("dedup should keep the more recent duplicate, got %q", top[1].Snippet)
	}
}

func TestApprovalSlotOccupied(t *testing.T) {
	s := NewState(ModeChat)
	req := func(id string) *ApprovalRequest {
		return &ApprovalRequest{
			ID:   id,
			Kind: ApprovalPlan,
			Plan: &PlanPayload{Objective: "update tracker", Steps: []string{"a"}},
		}
	}

	if err := s.Apply(&Delta{PendingApproval: req("a1")}); err != nil {
		t.Fatalf("first approval should set: %v", err)
	}
	err := s.Apply(&Delta{PendingApproval: req("a2")})
	if err == nil {
		t.Fatal("second approval without supersede should fail")
	}
	var ae *AgentError
	if !asAgentErr(err, &ae) || ae.Code != ErrCodeInvalidTransition {
		t.Errorf("expected invalid_transition, got %v", err)
	}

	if err := s.Apply(&Delta{PendingApproval: req("a3"), SupersedeApproval: true}); err != nil {
		t.Fatalf("supersede should succeed: %v", err)
	}
	if s.PendingApproval.ID != "a3" {
		t.Errorf("expected a3 pending, got %s", s.PendingApproval.ID)
	}

	if err := s.Apply(&Delta{ClearApproval: true}); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if s.PendingApproval != nil {
		t.Error("approval slot should be empty after clear")
	}
}

func TestDealContextImmutableDealID(t *testing.T) {
	s := NewState(ModeChat)
	if err := s.Apply(&Delta{DealContext: &DealContext{DealID: "deal-1", DealName: "Project Atlas"}}); err != nil {
		t.Fatalf("initial deal context failed: %v", err)
	}
	// Same deal, refreshed metadata: allowed.
	if err := s.Apply(&Delta{DealContext: &DealContext{DealID: "deal-1", DocumentCount: 42}}); err != nil {
		t.Fatalf("same-deal refresh failed: %v", err)
	}
	if err := s.Apply(&Delta{DealContext: &DealContext{DealID: "deal-2"}}); err == nil {
		t.Error("switching deals on an existing thread should fail")
	}
}

func TestScratchpadShallowMerge(t *testing.T) {
	s := NewState(ModeChat)
	_ = s.Apply(&Delta{Scratchpad: map[string]any{"a": 1, "b": "old"}})
	_ = s.Apply(&Delta{Scratchpad: map[string]any{"b": "new"}})
	if s.Scratchpad["a"] != 1 || s.Scratchpad["b"] != "new" {
		t.Errorf("shallow merge wrong: %v", s.Scratchpad)
	}
}

func TestCloneIsolation(t *testing.T) {
	s := NewState(ModeChat)
	_ = s.Apply(&Delta{
		Messages:   []llm.ChatMessage{{ID: "m1", Role: llm.RoleUser, Content: "hi"}},
		Scratchpad: map[string]any{"k": "v"},
	})

	c := s.Clone()
	c.Messages[0].Content = "mutated"
	c.Scratchpad["k"] = "mutated"

	if s.Messages[0].Content != "hi" {
		t.Error("clone shares message backing array")
	}
	if s.Scratchpad["k"] != "v" {
		t.Error("clone shares scratchpad map")
	}
}

func asAgentErr(err error, target **AgentError) bool {
	ae, ok := err.(*AgentError)
	if ok {
		*target = ae
	}
	return ok
}
