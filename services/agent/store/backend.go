// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/retrieval"
	"github.com/dealdesk/dealdesk/services/agent/supervisor"
)

// documentBackend adapts a document service into a retrieval backend
// so deployments without a vector index still retrieve from uploaded
// documents.
type documentBackend struct {
	docs supervisor.Documents
}

// NewDocumentBackend wraps a document search service as a retrieval
// backend named "deal_documents".
func NewDocumentBackend(docs supervisor.Documents) retrieval.Backend {
	return &documentBackend{docs: docs}
}

func (d *documentBackend) Name() string { return "deal_documents" }

func (d *documentBackend) Search(ctx context.Context, q retrieval.SearchQuery) ([]datatypes.SourceCitation, error) {
	sources, err := d.docs.Search(ctx, q.DealID, q.Topic)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(sources) > q.Limit {
		sources = sources[:q.Limit]
	}
	return sources, nil
}

var _ retrieval.Backend = (*documentBackend)(nil)
