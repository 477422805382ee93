// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/tokens"
)

const (
	// minUsefulChars is the floor below which a truncated snippet is
	// too mangled to help the model; such candidates are skipped and
	// the budget moves on to the next one.
	minUsefulChars = 100

	// charsPerTokenApprox converts a remaining token budget back to a
	// character target for the splitter.
	charsPerTokenApprox = 4
)

// FormatContext renders ranked citations into a prompt block bounded
// by budgetTokens. A candidate that does not fit whole is truncated on
// sentence boundaries rather than dropped, so the single best source
// still contributes even when it alone exceeds the remaining budget.
// Returns the block and the citations actually included.
func FormatContext(ranked []datatypes.SourceCitation, budgetTokens int) (string, []datatypes.SourceCitation) {
	if budgetTokens <= 0 || len(ranked) == 0 {
		return "", nil
	}

	var b strings.Builder
	var used []datatypes.SourceCitation
	remaining := budgetTokens

	for _, src := range ranked {
		block := formatCitation(src)
		cost := tokens.EstimateText(block)

		if cost > remaining {
			truncated, ok := truncateSnippet(src.Snippet, remaining)
			if !ok {
				// Too little room for a useful remainder; try the
				// next, shorter candidate instead.
				continue
			}
			shortened := src
			shortened.Snippet = truncated
			block = formatCitation(shortened)
			cost = tokens.EstimateText(block)
			if cost > remaining {
				continue
			}
			src = shortened
		}

		b.WriteString(block)
		used = append(used, src)
		remaining -= cost
		if remaining <= 0 {
			break
		}
	}
	return b.String(), used
}

// truncateSnippet cuts the snippet down to roughly the remaining token
// budget, preferring sentence and paragraph boundaries. Returns false
// when the usable remainder would fall under the minimum useful length.
func truncateSnippet(snippet string, remainingTokens int) (string, bool) {
	targetChars := remainingTokens * charsPerTokenApprox
	// Leave headroom for the citation framing around the snippet.
	targetChars -= 80
	if targetChars < minUsefulChars {
		return "", false
	}
	if len(snippet) <= targetChars {
		return snippet, true
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(targetChars),
		textsplitter.WithChunkOverlap(0),
	)
	chunks, err := splitter.SplitText(snippet)
	if err != nil || len(chunks) == 0 {
		// Splitter failure falls back to a hard cut.
		chunks = []string{snippet[:targetChars]}
	}

	out := strings.TrimSpace(chunks[0])
	if len(out) > targetChars {
		out = out[:targetChars]
	}
	if len(out) < minUsefulChars {
		return "", false
	}
	return out, true
}

func formatCitation(src datatypes.SourceCitation) string {
	loc := src.Location
	if loc == "" {
		loc = "unspecified"
	}
	return fmt.Sprintf("[Source: %s | %s]\n%s\n\n", src.DocumentName, loc, src.Snippet)
}
