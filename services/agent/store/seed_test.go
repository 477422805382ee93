// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAndApplySeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	payload := `[
		{
			"context": {"deal_id": "deal-7", "deal_name": "Project Borealis", "status": "active"},
			"documents": [
				{"ref": {"id": "doc-1", "name": "CIM.pdf"}, "passages": ["FY2025 revenue was $12M."]}
			],
			"facts": [
				{"topic": "revenue", "statement": "FY2025 revenue was $12M per the CIM."}
			]
		}
	]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	deals, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("deals = %d, want 1", len(deals))
	}

	mem := NewMemory()
	ctx := context.Background()
	if err := mem.ApplySeed(ctx, deals); err != nil {
		t.Fatalf("ApplySeed: %v", err)
	}

	dc, err := mem.GetDealContext(ctx, "deal-7")
	if err != nil {
		t.Fatalf("GetDealContext: %v", err)
	}
	if dc.DealName != "Project Borealis" || dc.DocumentCount != 1 {
		t.Errorf("context = %+v", dc)
	}

	facts, err := mem.Services().Knowledge.Query(ctx, "deal-7", "revenue")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(facts) != 1 {
		t.Errorf("facts = %d, want 1", len(facts))
	}
}

func TestLoadSeedErrors(t *testing.T) {
	if _, err := LoadSeed(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file did not error")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSeed(path); err == nil {
		t.Error("malformed file did not error")
	}
}
