// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/supervisor"
)

// SeedDocument is one document with its indexed passages.
type SeedDocument struct {
	Ref      datatypes.DocumentRef `json:"ref"`
	Passages []string              `json:"passages"`
}

// SeedDeal is one deal with its documents and curated facts.
type SeedDeal struct {
	Context   datatypes.DealContext `json:"context"`
	Documents []SeedDocument        `json:"documents,omitempty"`
	Facts     []supervisor.Fact     `json:"facts,omitempty"`
}

// LoadSeed reads a seed file: a JSON array of deals.
func LoadSeed(path string) ([]SeedDeal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var deals []SeedDeal
	if err := json.Unmarshal(raw, &deals); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return deals, nil
}

// ApplySeed loads the deals into the store.
func (m *Memory) ApplySeed(ctx context.Context, deals []SeedDeal) error {
	kb := m.Services().Knowledge
	for _, d := range deals {
		dc := m.AddDeal(d.Context)
		for _, doc := range d.Documents {
			if err := m.AddDocument(dc.DealID, doc.Ref, doc.Passages); err != nil {
				return err
			}
		}
		for _, fact := range d.Facts {
			if _, err := kb.Upsert(ctx, dc.DealID, fact); err != nil {
				return err
			}
		}
	}
	return nil
}
