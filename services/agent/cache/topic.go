// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"sort"
	"strings"
	"unicode"
)

// topicStopwords are filler words dropped during normalization so that
// phrasings like "what was the revenue in 2023" and "revenue 2023"
// share a cache key.
var topicStopwords = map[string]bool{
	"a": true, "an": true, "the": true,
	"in": true, "on": true, "of": true, "for": true, "at": true,
	"is": true, "was": true, "are": true, "were": true,
	"what": true, "whats": true, "which": true, "how": true,
	"me": true, "my": true, "our": true, "their": true,
	"about": true, "tell": true, "show": true, "give": true,
	"please": true, "can": true, "you": true, "do": true, "does": true,
}

// NormalizeTopic canonicalizes a retrieval topic for cache keying:
// lowercase, punctuation stripped, stopwords removed, terms sorted.
// Word-order variants like "Q3 revenue" and "revenue Q3" collapse
// onto one key.
func NormalizeTopic(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			b.WriteByte(' ')
		}
		// Other punctuation is dropped entirely.
	}

	fields := strings.Fields(b.String())
	kept := fields[:0]
	for _, f := range fields {
		if !topicStopwords[f] {
			kept = append(kept, f)
		}
	}
	sort.Strings(kept)
	return strings.Join(kept, " ")
}
