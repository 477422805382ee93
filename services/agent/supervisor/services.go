// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package supervisor is the tool-calling orchestrator at the center of
// a chat or IRL turn. It drives the LLM loop, executes validated tool
// calls against the deal services, and pauses for user approval when
// a tool proposes a modifying or destructive action.
package supervisor

import (
	"context"
	"time"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
)

// Fact is one curated knowledge entry for a deal.
type Fact struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Statement string    `json:"statement"`
	Source    string    `json:"source,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contradiction pairs two facts that cannot both hold.
type Contradiction struct {
	FactA  Fact   `json:"fact_a"`
	FactB  Fact   `json:"fact_b"`
	Reason string `json:"reason"`
}

// Gap names a topic the diligence checklist expects but the knowledge
// store lacks.
type Gap struct {
	Topic  string `json:"topic"`
	Reason string `json:"reason"`
}

// Knowledge is the curated fact store for a deal.
type Knowledge interface {
	Query(ctx context.Context, dealID, topic string) ([]Fact, error)
	Upsert(ctx context.Context, dealID string, fact Fact) (Fact, error)
	Validate(ctx context.Context, dealID, statement string) (supported bool, evidence []Fact, err error)
	Contradictions(ctx context.Context, dealID string) ([]Contradiction, error)
	Gaps(ctx context.Context, dealID string) ([]Gap, error)
}

// QAEntry is one question in the seller Q&A tracker.
type QAEntry struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer,omitempty"`
	Status    string    `json:"status"` // open, answered, closed
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// QATracker manages seller questions for a deal.
type QATracker interface {
	List(ctx context.Context, dealID string) ([]QAEntry, error)
	Add(ctx context.Context, dealID string, entry QAEntry) (QAEntry, error)
	Update(ctx context.Context, dealID string, entry QAEntry) (QAEntry, error)
	Delete(ctx context.Context, dealID, entryID string) error
}

// IRLItem is one request on an information request list.
type IRLItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    string `json:"priority"` // high, medium, low
	Status      string `json:"status"`
}

// IRL is an information request list sent to the seller.
type IRL struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Items     []IRLItem `json:"items"`
	CreatedAt time.Time `json:"created_at"`
}

// IRLService manages information request lists for a deal.
type IRLService interface {
	Create(ctx context.Context, dealID, name string) (IRL, error)
	AddItem(ctx context.Context, dealID, irlID string, item IRLItem) (IRLItem, error)
	Get(ctx context.Context, dealID, irlID string) (IRL, error)
}

// Documents exposes document metadata and search for a deal.
type Documents interface {
	List(ctx context.Context, dealID string) ([]datatypes.DocumentRef, error)
	Info(ctx context.Context, dealID, documentID string) (datatypes.DocumentRef, error)
	Search(ctx context.Context, dealID, query string) ([]datatypes.SourceCitation, error)
}

// AnalysisRun is an asynchronous analysis job handle.
type AnalysisRun struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"` // financial, risk
	Focus   string    `json:"focus,omitempty"`
	Status  string    `json:"status"`
	Started time.Time `json:"started"`
}

// Analysis triggers long-running analysis jobs. Focus narrows the run
// to one area and may be empty.
type Analysis interface {
	Trigger(ctx context.Context, dealID, kind, focus string) (AnalysisRun, error)
}

// Services bundles everything the tool set operates on.
type Services struct {
	Knowledge Knowledge
	QA        QATracker
	IRL       IRLService
	Documents Documents
	Analysis  Analysis
}
