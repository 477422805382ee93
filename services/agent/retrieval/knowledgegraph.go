// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
)

// KnowledgeGraphBackend queries the deal knowledge-graph service over
// HTTP. The service holds extracted entities and curated facts, which
// complement the raw document chunks from the vector store.
//
// Thread Safety: Safe for concurrent use.
type KnowledgeGraphBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewKnowledgeGraphBackend creates a backend for the service at
// baseURL. Empty baseURL reads KNOWLEDGE_GRAPH_URL, defaulting to the
// local compose address.
func NewKnowledgeGraphBackend(baseURL string) *KnowledgeGraphBackend {
	if baseURL == "" {
		baseURL = os.Getenv("KNOWLEDGE_GRAPH_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8091"
	}
	return &KnowledgeGraphBackend{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (k *KnowledgeGraphBackend) Name() string { return "knowledge_graph" }

type kgQueryRequest struct {
	DealID string `json:"deal_id"`
	Topic  string `json:"topic"`
	Limit  int    `json:"limit"`
}

type kgQueryResponse struct {
	Results []struct {
		DocumentID   string  `json:"document_id"`
		DocumentName string  `json:"document_name"`
		Location     string  `json:"location"`
		Fact         string  `json:"fact"`
		Score        float64 `json:"score"`
	} `json:"results"`
}

// Search posts the topic query and maps facts to citations.
func (k *KnowledgeGraphBackend) Search(ctx context.Context, q SearchQuery) ([]datatypes.SourceCitation, error) {
	body, err := json.Marshal(kgQueryRequest{DealID: q.DealID, Topic: q.Topic, Limit: q.Limit})
	if err != nil {
		return nil, fmt.Errorf("marshal knowledge graph query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		k.baseURL+"/api/v1/facts/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build knowledge graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("knowledge graph returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed kgQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode knowledge graph response: %w", err)
	}

	now := time.Now().UTC()
	out := make([]datatypes.SourceCitation, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.DocumentID == "" || r.Fact == "" {
			continue
		}
		out = append(out, datatypes.SourceCitation{
			DocumentID:   r.DocumentID,
			DocumentName: r.DocumentName,
			Location:     r.Location,
			Snippet:      r.Fact,
			Relevance:    r.Score,
			RetrievedAt:  now,
		})
	}
	return out, nil
}
