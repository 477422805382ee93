// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
)

// documentClass is the Weaviate class holding deal document chunks.
const documentClass = "DealDocumentChunk"

// WeaviateBackend searches the vector store for document chunks.
//
// Thread Safety: Safe for concurrent use.
type WeaviateBackend struct {
	client *weaviate.Client
}

// NewWeaviateBackend wraps an existing Weaviate client.
func NewWeaviateBackend(client *weaviate.Client) *WeaviateBackend {
	return &WeaviateBackend{client: client}
}

func (w *WeaviateBackend) Name() string { return "weaviate" }

// Search runs a nearText query filtered to the deal.
//
// Certainty is requested instead of distance because it is always in
// [0,1] regardless of the configured distance metric, which is what
// the uncertainty thresholds downstream assume.
func (w *WeaviateBackend) Search(ctx context.Context, q SearchQuery) ([]datatypes.SourceCitation, error) {
	dealFilter := filters.Where().
		WithPath([]string{"deal_id"}).
		WithOperator(filters.Equal).
		WithValueString(q.DealID)

	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{q.Topic})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "document_id"},
		{Name: "document_name"},
		{Name: "location"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(documentClass).
		WithFields(fields...).
		WithWhere(dealFilter).
		WithNearText(nearText).
		WithLimit(q.Limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql error: %s", result.Errors[0].Message)
	}

	return parseChunks(result.Data)
}

// parseChunks walks the GraphQL response shape
// Data["Get"][documentClass] -> []object.
func parseChunks(data map[string]models.JSONObject) ([]datatypes.SourceCitation, error) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	rows, ok := get[documentClass].([]any)
	if !ok {
		return nil, nil
	}

	now := time.Now().UTC()
	out := make([]datatypes.SourceCitation, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]any)
		if !ok {
			continue
		}
		src := datatypes.SourceCitation{
			DocumentID:   asString(obj["document_id"]),
			DocumentName: asString(obj["document_name"]),
			Location:     asString(obj["location"]),
			Snippet:      asString(obj["content"]),
			RetrievedAt:  now,
		}
		if add, ok := obj["_additional"].(map[string]any); ok {
			if c, ok := add["certainty"].(float64); ok {
				src.Relevance = c
			}
		}
		if src.DocumentID == "" || src.Snippet == "" {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
