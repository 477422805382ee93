// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tokens estimates token usage for context budgeting without a
// model-specific tokenizer. The heuristic overestimates slightly on
// English prose, which is the safe direction for budget decisions.
package tokens

import "github.com/dealdesk/dealdesk/services/llm"

const (
	// charsPerToken approximates tokenization of English business
	// prose across the supported providers.
	charsPerToken = 4

	// messageOverhead covers role markers and message framing that
	// every chat message costs regardless of content length.
	messageOverhead = 4
)

// EstimateText estimates token usage for a raw string. Empty input is
// zero; any non-empty input counts at least one token.
func EstimateText(s string) int {
	if len(s) == 0 {
		return 0
	}
	n := len(s) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateMessage estimates one chat message including framing
// overhead. Tool calls count their serialized arguments.
func EstimateMessage(m llm.ChatMessage) int {
	n := messageOverhead + EstimateText(m.Content)
	for _, tc := range m.ToolCalls {
		n += EstimateText(tc.Name) + EstimateText(string(tc.Arguments))
	}
	return n
}

// EstimateMessages sums estimates over a conversation slice.
func EstimateMessages(msgs []llm.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}
