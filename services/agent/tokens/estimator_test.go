// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tokens

import (
	"strings"
	"testing"

	"github.com/dealdesk/dealdesk/services/llm"
)

func TestEstimateText(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"hi", 1}, // short non-empty input still costs a token
		{"abcd", 1},
		{strings.Repeat("a", 400), 100},
	}
	for _, tc := range cases {
		if got := EstimateText(tc.in); got != tc.want {
			t.Errorf("EstimateText(%d chars) = %d, want %d", len(tc.in), got, tc.want)
		}
	}
}

func TestEstimateMessageOverhead(t *testing.T) {
	empty := llm.ChatMessage{Role: llm.RoleUser}
	if got := EstimateMessage(empty); got != 4 {
		t.Errorf("empty message should cost framing overhead only, got %d", got)
	}

	m := llm.ChatMessage{Role: llm.RoleUser, Content: strings.Repeat("x", 40)}
	if got := EstimateMessage(m); got != 14 {
		t.Errorf("EstimateMessage = %d, want 14", got)
	}
}

func TestEstimateMessageCountsToolCalls(t *testing.T) {
	m := llm.ChatMessage{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{
			Name:      "search_documents",
			Arguments: `{"query":"revenue 2023"}`,
		}},
	}
	plain := llm.ChatMessage{Role: llm.RoleAssistant}
	if EstimateMessage(m) <= EstimateMessage(plain) {
		t.Error("tool calls should add to the estimate")
	}
}

func TestEstimateMessagesSums(t *testing.T) {
	msgs := []llm.ChatMessage{
		{Role: llm.RoleUser, Content: "abcd"},
		{Role: llm.RoleAssistant, Content: "efgh"},
	}
	want := EstimateMessage(msgs[0]) + EstimateMessage(msgs[1])
	if got := EstimateMessages(msgs); got != want {
		t.Errorf("EstimateMessages = %d, want %d", got, want)
	}
}
