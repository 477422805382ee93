// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store is the boundary to the upstream deal platform: deal
// metadata, document references, and the curated trackers the agent
// tools operate on. The production deployment backs this with the
// platform API; the in-memory implementation serves development and
// tests.
package store

import (
	"context"
	"errors"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
)

// ErrDealNotFound is returned for any deal ID the store has never seen.
var ErrDealNotFound = errors.New("deal not found")

// DealStore resolves deal metadata for turn setup. DocumentCount on
// the returned context always reflects the live document list, not a
// cached counter.
type DealStore interface {
	// GetDealContext returns the deal header used in system prompts
	// and access checks.
	GetDealContext(ctx context.Context, dealID string) (datatypes.DealContext, error)

	// ListDocuments returns the documents uploaded for the deal.
	ListDocuments(ctx context.Context, dealID string) ([]datatypes.DocumentRef, error)
}
