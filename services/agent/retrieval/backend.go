// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval turns a user query into a ranked, deduplicated,
// token-budgeted set of source citations scoped to one deal.
//
// Backends are pluggable: the vector store and the knowledge-graph
// service both satisfy Backend. A backend failure never aborts the
// turn; the node merges whatever the surviving backends returned and
// records the failure on the state's error log.
package retrieval

import (
	"context"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
)

// SearchQuery is one backend search request.
type SearchQuery struct {
	// DealID scopes results to a single deal. Required.
	DealID string

	// Topic is the normalized topic text to search for.
	Topic string

	// Limit caps candidates per backend.
	Limit int
}

// Backend is one retrieval source.
type Backend interface {
	// Name identifies the backend in logs and error entries.
	Name() string

	// Search returns candidate citations for the query. Relevance
	// scores must be in [0,1].
	Search(ctx context.Context, q SearchQuery) ([]datatypes.SourceCitation, error)
}
