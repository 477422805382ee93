// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/supervisor"
)

// =============================================================================
// In-Memory Deal Store
// =============================================================================

type dealRecord struct {
	context   datatypes.DealContext
	documents []datatypes.DocumentRef
	chunks    map[string][]string // documentID -> searchable passages
	facts     []supervisor.Fact
	qa        []supervisor.QAEntry
	irls      map[string]*supervisor.IRL
	runs      []supervisor.AnalysisRun
}

// Memory is an in-memory deal platform: DealStore plus every service
// interface the tool registry binds to. Development and test only; a
// process restart loses everything.
//
// Thread Safety: Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	deals map[string]*dealRecord

	// checklist is the diligence topic list gap detection compares
	// the fact store against.
	checklist []string
}

// NewMemory creates an empty in-memory platform.
func NewMemory() *Memory {
	return &Memory{
		deals: make(map[string]*dealRecord),
		checklist: []string{
			"revenue", "ebitda", "customer concentration", "customer churn",
			"debt", "working capital", "key employees", "litigation",
		},
	}
}

// AddDeal registers a deal. The ID is generated when empty.
func (m *Memory) AddDeal(dc datatypes.DealContext) datatypes.DealContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dc.DealID == "" {
		dc.DealID = uuid.NewString()
	}
	if dc.CreatedAt.IsZero() {
		dc.CreatedAt = time.Now().UTC()
	}
	m.deals[dc.DealID] = &dealRecord{
		context: dc,
		chunks:  make(map[string][]string),
		irls:    make(map[string]*supervisor.IRL),
	}
	return dc
}

// AddDocument attaches a document with its searchable passages.
func (m *Memory) AddDocument(dealID string, ref datatypes.DocumentRef, passages []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.deals[dealID]
	if !ok {
		return ErrDealNotFound
	}
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	if ref.UploadedAt.IsZero() {
		ref.UploadedAt = time.Now().UTC()
	}
	rec.documents = append(rec.documents, ref)
	rec.chunks[ref.ID] = passages
	return nil
}

func (m *Memory) record(dealID string) (*dealRecord, error) {
	rec, ok := m.deals[dealID]
	if !ok {
		return nil, ErrDealNotFound
	}
	return rec, nil
}

// GetDealContext implements DealStore. DocumentCount is recomputed
// from the document list on every call.
func (m *Memory) GetDealContext(_ context.Context, dealID string) (datatypes.DealContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, err := m.record(dealID)
	if err != nil {
		return datatypes.DealContext{}, err
	}
	dc := rec.context
	dc.DocumentCount = len(rec.documents)
	return dc, nil
}

// ListDocuments implements DealStore.
func (m *Memory) ListDocuments(_ context.Context, dealID string) ([]datatypes.DocumentRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, err := m.record(dealID)
	if err != nil {
		return nil, err
	}
	return append([]datatypes.DocumentRef(nil), rec.documents...), nil
}

// Services returns the tool service bundle backed by this store.
func (m *Memory) Services() supervisor.Services {
	return supervisor.Services{
		Knowledge: (*memoryKnowledge)(m),
		QA:        (*memoryQA)(m),
		IRL:       (*memoryIRL)(m),
		Documents: (*memoryDocuments)(m),
		Analysis:  (*memoryAnalysis)(m),
	}
}

// =============================================================================
// Knowledge
// =============================================================================

type memoryKnowledge Memory

func (k *memoryKnowledge) Query(_ context.Context, dealID, topic string) ([]supervisor.Fact, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, err := (*Memory)(k).record(dealID)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(topic)
	var out []supervisor.Fact
	for _, f := range rec.facts {
		if strings.Contains(strings.ToLower(f.Topic), want) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (k *memoryKnowledge) Upsert(_ context.Context, dealID string, fact supervisor.Fact) (supervisor.Fact, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, err := (*Memory)(k).record(dealID)
	if err != nil {
		return supervisor.Fact{}, err
	}
	fact.UpdatedAt = time.Now().UTC()
	if fact.ID != "" {
		for i, f := range rec.facts {
			if f.ID == fact.ID {
				rec.facts[i] = fact
				return fact, nil
			}
		}
	}
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	rec.facts = append(rec.facts, fact)
	return fact, nil
}

func (k *memoryKnowledge) Validate(_ context.Context, dealID, statement string) (bool, []supervisor.Fact, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, err := (*Memory)(k).record(dealID)
	if err != nil {
		return false, nil, err
	}
	lower := strings.ToLower(statement)
	var evidence []supervisor.Fact
	for _, f := range rec.facts {
		if strings.Contains(lower, strings.ToLower(f.Statement)) ||
			strings.Contains(strings.ToLower(f.Statement), lower) {
			evidence = append(evidence, f)
		}
	}
	return len(evidence) > 0, evidence, nil
}

// Contradictions pairs facts that share a topic but assert different
// statements. Corrections are expected to go through Upsert with the
// original fact ID, so two live facts on one topic means nobody
// resolved which one holds.
func (k *memoryKnowledge) Contradictions(_ context.Context, dealID string) ([]supervisor.Contradiction, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, err := (*Memory)(k).record(dealID)
	if err != nil {
		return nil, err
	}
	byTopic := make(map[string][]supervisor.Fact)
	for _, f := range rec.facts {
		topic := strings.ToLower(f.Topic)
		byTopic[topic] = append(byTopic[topic], f)
	}
	var out []supervisor.Contradiction
	for _, group := range byTopic {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if group[i].Statement != group[j].Statement {
					out = append(out, supervisor.Contradiction{
						FactA:  group[i],
						FactB:  group[j],
						Reason: "two unresolved statements on topic " + group[i].Topic,
					})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FactA.ID < out[j].FactA.ID })
	return out, nil
}

func (k *memoryKnowledge) Gaps(_ context.Context, dealID string) ([]supervisor.Gap, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, err := (*Memory)(k).record(dealID)
	if err != nil {
		return nil, err
	}
	var out []supervisor.Gap
	for _, topic := range k.checklist {
		covered := false
		for _, f := range rec.facts {
			if strings.Contains(strings.ToLower(f.Topic), topic) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, supervisor.Gap{
				Topic:  topic,
				Reason: "no facts recorded for this diligence topic",
			})
		}
	}
	return out, nil
}

// =============================================================================
// Q&A Tracker
// =============================================================================

type memoryQA Memory

func (q *memoryQA) List(_ context.Context, dealID string) ([]supervisor.QAEntry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	rec, err := (*Memory)(q).record(dealID)
	if err != nil {
		return nil, err
	}
	return append([]supervisor.QAEntry(nil), rec.qa...), nil
}

func (q *memoryQA) Add(_ context.Context, dealID string, entry supervisor.QAEntry) (supervisor.QAEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, err := (*Memory)(q).record(dealID)
	if err != nil {
		return supervisor.QAEntry{}, err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = "open"
	}
	entry.CreatedAt = time.Now().UTC()
	rec.qa = append(rec.qa, entry)
	return entry, nil
}

func (q *memoryQA) Update(_ context.Context, dealID string, entry supervisor.QAEntry) (supervisor.QAEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, err := (*Memory)(q).record(dealID)
	if err != nil {
		return supervisor.QAEntry{}, err
	}
	for i, e := range rec.qa {
		if e.ID == entry.ID {
			if entry.CreatedAt.IsZero() {
				entry.CreatedAt = e.CreatedAt
			}
			rec.qa[i] = entry
			return entry, nil
		}
	}
	return supervisor.QAEntry{}, errEntryNotFound(entry.ID)
}

func (q *memoryQA) Delete(_ context.Context, dealID, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, err := (*Memory)(q).record(dealID)
	if err != nil {
		return err
	}
	for i, e := range rec.qa {
		if e.ID == entryID {
			rec.qa = append(rec.qa[:i], rec.qa[i+1:]...)
			return nil
		}
	}
	return errEntryNotFound(entryID)
}

type errEntryNotFound string

func (e errEntryNotFound) Error() string { return "entry not found: " + string(e) }

// =============================================================================
// IRL
// =============================================================================

type memoryIRL Memory

func (r *memoryIRL) Create(_ context.Context, dealID, name string) (supervisor.IRL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := (*Memory)(r).record(dealID)
	if err != nil {
		return supervisor.IRL{}, err
	}
	irl := &supervisor.IRL{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	rec.irls[irl.ID] = irl
	return *irl, nil
}

func (r *memoryIRL) AddItem(_ context.Context, dealID, irlID string, item supervisor.IRLItem) (supervisor.IRLItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := (*Memory)(r).record(dealID)
	if err != nil {
		return supervisor.IRLItem{}, err
	}
	irl, ok := rec.irls[irlID]
	if !ok {
		return supervisor.IRLItem{}, errEntryNotFound(irlID)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = "requested"
	}
	irl.Items = append(irl.Items, item)
	return item, nil
}

func (r *memoryIRL) Get(_ context.Context, dealID, irlID string) (supervisor.IRL, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, err := (*Memory)(r).record(dealID)
	if err != nil {
		return supervisor.IRL{}, err
	}
	irl, ok := rec.irls[irlID]
	if !ok {
		return supervisor.IRL{}, errEntryNotFound(irlID)
	}
	out := *irl
	out.Items = append([]supervisor.IRLItem(nil), irl.Items...)
	return out, nil
}

// =============================================================================
// Documents
// =============================================================================

type memoryDocuments Memory

func (d *memoryDocuments) List(ctx context.Context, dealID string) ([]datatypes.DocumentRef, error) {
	return (*Memory)(d).ListDocuments(ctx, dealID)
}

func (d *memoryDocuments) Info(_ context.Context, dealID, documentID string) (datatypes.DocumentRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, err := (*Memory)(d).record(dealID)
	if err != nil {
		return datatypes.DocumentRef{}, err
	}
	for _, ref := range rec.documents {
		if ref.ID == documentID {
			return ref, nil
		}
	}
	return datatypes.DocumentRef{}, errEntryNotFound(documentID)
}

// Search is a case-insensitive substring scan over stored passages.
// Relevance is the match count normalized per passage, which is enough
// to order dev-fixture results deterministically.
func (d *memoryDocuments) Search(_ context.Context, dealID, query string) ([]datatypes.SourceCitation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, err := (*Memory)(d).record(dealID)
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	var out []datatypes.SourceCitation
	for _, ref := range rec.documents {
		for i, passage := range rec.chunks[ref.ID] {
			lower := strings.ToLower(passage)
			matched := 0
			for _, term := range terms {
				if strings.Contains(lower, term) {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			out = append(out, datatypes.SourceCitation{
				DocumentID:   ref.ID,
				DocumentName: ref.Name,
				Location:     "passage " + strconv.Itoa(i+1),
				Snippet:      passage,
				Relevance:    float64(matched) / float64(len(terms)),
				RetrievedAt:  time.Now().UTC(),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out, nil
}

// =============================================================================
// Analysis
// =============================================================================

type memoryAnalysis Memory

func (a *memoryAnalysis) Trigger(_ context.Context, dealID, kind, focus string) (supervisor.AnalysisRun, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := (*Memory)(a).record(dealID)
	if err != nil {
		return supervisor.AnalysisRun{}, err
	}
	run := supervisor.AnalysisRun{
		ID:      uuid.NewString(),
		Kind:    kind,
		Focus:   focus,
		Status:  "running",
		Started: time.Now().UTC(),
	}
	rec.runs = append(rec.runs, run)
	return run, nil
}
