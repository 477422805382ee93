// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the conversation state that flows through
// the agent execution graph, plus the value types it carries: source
// citations, deal context, approval requests, and structured errors.
//
// The state is reducer-typed: every field has exactly one merge rule
// (append, replace, or shallow-merge), declared once in Apply. Nodes
// never mutate state directly; they return a Delta and the graph
// applies it. This keeps merge semantics in one reviewable place.
package datatypes

import (
	"sort"
	"time"

	"github.com/dealdesk/dealdesk/services/llm"
)

// =============================================================================
// Workflow Modes
// =============================================================================

// WorkflowMode selects graph routing after retrieval. It is a closed
// set; anything else is rejected at thread construction.
type WorkflowMode string

const (
	// ModeChat is the default conversational assistant.
	ModeChat WorkflowMode = "chat"

	// ModeCIM drives the multi-phase deal memorandum builder.
	ModeCIM WorkflowMode = "cim"

	// ModeIRL drives information-request-list creation.
	ModeIRL WorkflowMode = "irl"
)

// Valid reports whether m is one of the closed set of modes.
func (m WorkflowMode) Valid() bool {
	switch m {
	case ModeChat, ModeCIM, ModeIRL:
		return true
	}
	return false
}

// =============================================================================
// Value Types
// =============================================================================

// SourceCitation is a structured reference attached to agent output for
// traceability. Citations accumulate monotonically on the state within
// a turn; deduplication and ranking happen at read time (TopSources),
// never as a mutation.
type SourceCitation struct {
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Location     string    `json:"location,omitempty"` // page/section, may be empty
	Snippet      string    `json:"snippet"`
	Relevance    float64   `json:"relevance_score"` // in [0,1]
	RetrievedAt  time.Time `json:"retrieved_at"`
}

// Identity returns the stable dedup key for a citation. Paraphrased or
// overlapping snippets from the same document and location are
// redundant, so identity is document+location, not snippet text.
func (s SourceCitation) Identity() string {
	return s.DocumentID + "\x00" + s.Location
}

// DealContext is the tenant/deal scope snapshot, loaded once per thread.
// DealID is immutable for the lifetime of a thread; switching deals
// requires a new thread identifier.
type DealContext struct {
	DealID        string    `json:"deal_id"`
	DealName      string    `json:"deal_name"`
	ProjectID     string    `json:"project_id"`
	Status        string    `json:"status"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// DocumentRef identifies one uploaded document within a deal.
type DocumentRef struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mime_type,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// RetrievalMeta records how the last retrieval pass was served.
// Replace-on-write.
type RetrievalMeta struct {
	// CacheHit is true when the retrieval-result cache served the
	// topic without a live backend query.
	CacheHit bool `json:"cache_hit"`

	// Topics are the normalized topic terms extracted from the query.
	Topics []string `json:"topics,omitempty"`

	// DurationMs is the wall time of the retrieval pass.
	DurationMs int64 `json:"duration_ms"`
}

// CIMPhaseData holds the output of one completed CIM builder phase.
type CIMPhaseData struct {
	Phase   string         `json:"phase"`
	Content map[string]any `json:"content"`
}

// CIMState is the nested workflow state for the deal memorandum
// builder. It is nil outside cim mode.
type CIMState struct {
	CurrentPhase    string         `json:"current_phase"`
	CompletedPhases []string       `json:"completed_phases"`
	PhaseData       []CIMPhaseData `json:"phase_data"` // ordered by completion
	Slides          []string       `json:"slides"`

	// Dependencies maps a phase to the phases that must complete first.
	Dependencies map[string][]string `json:"dependencies,omitempty"`

	Complete bool `json:"complete"`
}

// =============================================================================
// Conversation State
// =============================================================================

// State is the unit that flows through the execution graph. One State
// exists per thread; it is loaded from the checkpoint store at turn
// start and persisted at turn end.
type State struct {
	// Messages is append-only via ID-aware merge: a message whose ID
	// already exists replaces the original in place, which is how
	// streaming token updates avoid duplicating history.
	Messages []llm.ChatMessage `json:"messages"`

	// Sources accumulates within a turn and across the state lifetime;
	// presentation-time dedup only.
	Sources []SourceCitation `json:"sources"`

	// PendingApproval is a single slot. Issuing a new request while
	// one is outstanding is an invalid transition unless the new
	// request explicitly supersedes.
	PendingApproval *ApprovalRequest `json:"pending_approval,omitempty"`

	// ActiveSpecialist identifies the currently-engaged specialist,
	// or empty.
	ActiveSpecialist string `json:"active_specialist,omitempty"`

	// Errors is an append-only audit log of structured errors.
	Errors []AgentError `json:"errors"`

	// DealContext is replace-on-write, but DealID never changes once
	// set for a thread.
	DealContext *DealContext `json:"deal_context,omitempty"`

	WorkflowMode WorkflowMode `json:"workflow_mode"`

	// CIMState is non-nil only in cim mode.
	CIMState *CIMState `json:"cim_state,omitempty"`

	// Scratchpad is free-form working memory, shallow-merged across
	// updates: new keys win. Specialists write non-overlapping keys
	// by convention.
	Scratchpad map[string]any `json:"scratchpad,omitempty"`

	// HistorySummary and TokenCount are compression state,
	// replace-on-write.
	HistorySummary string `json:"history_summary,omitempty"`
	TokenCount     int    `json:"token_count"`

	// Retrieval is metadata about the last retrieval pass,
	// replace-on-write.
	Retrieval *RetrievalMeta `json:"retrieval,omitempty"`
}

// NewState creates an empty state for the given mode.
func NewState(mode WorkflowMode) *State {
	return &State{
		WorkflowMode: mode,
		Scratchpad:   map[string]any{},
	}
}

// Clone returns a deep-enough copy for checkpointing: slices and maps
// are copied, value types are shared (they are never mutated in place).
func (s *State) Clone() *State {
	out := *s
	out.Messages = append([]llm.ChatMessage(nil), s.Messages...)
	out.Sources = append([]SourceCitation(nil), s.Sources...)
	out.Errors = append([]AgentError(nil), s.Errors...)
	if s.Scratchpad != nil {
		out.Scratchpad = make(map[string]any, len(s.Scratchpad))
		for k, v := range s.Scratchpad {
			out.Scratchpad[k] = v
		}
	}
	if s.DealContext != nil {
		dc := *s.DealContext
		out.DealContext = &dc
	}
	if s.Retrieval != nil {
		rm := *s.Retrieval
		topics := append([]string(nil), s.Retrieval.Topics...)
		rm.Topics = topics
		out.Retrieval = &rm
	}
	if s.CIMState != nil {
		cs := *s.CIMState
		cs.CompletedPhases = append([]string(nil), s.CIMState.CompletedPhases...)
		cs.PhaseData = append([]CIMPhaseData(nil), s.CIMState.PhaseData...)
		cs.Slides = append([]string(nil), s.CIMState.Slides...)
		out.CIMState = &cs
	}
	if s.PendingApproval != nil {
		pa := *s.PendingApproval
		out.PendingApproval = &pa
	}
	return &out
}

// TopSources returns up to k citations, deduplicated by identity and
// ranked by relevance descending with retrieval recency breaking ties.
// Read-only: the state's source log is never modified.
func (s *State) TopSources(k int) []SourceCitation {
	seen := map[string]SourceCitation{}
	for _, src := range s.Sources {
		id := src.Identity()
		best, ok := seen[id]
		if !ok || src.Relevance > best.Relevance ||
			(src.Relevance == best.Relevance && src.RetrievedAt.After(best.RetrievedAt)) {
			seen[id] = src
		}
	}

	ranked := make([]SourceCitation, 0, len(seen))
	for _, src := range seen {
		ranked = append(ranked, src)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Relevance != ranked[j].Relevance {
			return ranked[i].Relevance > ranked[j].Relevance
		}
		return ranked[i].RetrievedAt.After(ranked[j].RetrievedAt)
	})

	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// =============================================================================
// Delta and Reducers
// =============================================================================

// Delta is a partial state update produced by a graph node. Zero-value
// fields are "no change"; the field comments state the merge rule
// applied by Apply.
type Delta struct {
	// Messages: ID-aware append. A message with an existing ID
	// replaces it in place; otherwise it is appended.
	Messages []llm.ChatMessage

	// Sources: append (monotonic accumulation).
	Sources []SourceCitation

	// Errors: append (audit log).
	Errors []AgentError

	// PendingApproval: single-slot set; see Apply for the occupancy
	// rule. SupersedeApproval allows explicit replacement.
	PendingApproval   *ApprovalRequest
	SupersedeApproval bool

	// ClearApproval resolves the slot (approved or rejected).
	ClearApproval bool

	// ActiveSpecialist: replace when non-nil.
	ActiveSpecialist *string

	// DealContext: replace when non-nil; DealID immutability enforced.
	DealContext *DealContext

	// CIMState: replace when non-nil.
	CIMState *CIMState

	// Scratchpad: shallow merge, new keys win.
	Scratchpad map[string]any

	// HistorySummary / TokenCount: replace when non-nil.
	HistorySummary *string
	TokenCount     *int

	// Retrieval: replace when non-nil.
	Retrieval *RetrievalMeta
}

// Apply merges a delta into the state using the per-field reducers.
// It returns an error only for invalid transitions (occupied approval
// slot without supersede, or an attempted deal switch); all other
// merges are total.
func (s *State) Apply(d *Delta) error {
	if d == nil {
		return nil
	}

	for _, m := range d.Messages {
		s.mergeMessage(m)
	}
	s.Sources = append(s.Sources, d.Sources...)
	s.Errors = append(s.Errors, d.Errors...)

	if d.ClearApproval {
		s.PendingApproval = nil
	}
	if d.PendingApproval != nil {
		if s.PendingApproval != nil && !d.SupersedeApproval {
			return NewAgentError(ErrCodeInvalidTransition,
				"an approval request is already pending; supersede or resolve it first", false)
		}
		pa := *d.PendingApproval
		s.PendingApproval = &pa
	}

	if d.ActiveSpecialist != nil {
		s.ActiveSpecialist = *d.ActiveSpecialist
	}
	if d.DealContext != nil {
		if s.DealContext != nil && s.DealContext.DealID != d.DealContext.DealID {
			return NewAgentError(ErrCodeInvalidTransition,
				"deal context is immutable for a thread; start a new thread to switch deals", false)
		}
		dc := *d.DealContext
		s.DealContext = &dc
	}
	if d.CIMState != nil {
		cs := *d.CIMState
		s.CIMState = &cs
	}

	if len(d.Scratchpad) > 0 {
		if s.Scratchpad == nil {
			s.Scratchpad = map[string]any{}
		}
		for k, v := range d.Scratchpad {
			s.Scratchpad[k] = v // new keys win, by design of the pad
		}
	}

	if d.HistorySummary != nil {
		s.HistorySummary = *d.HistorySummary
	}
	if d.TokenCount != nil {
		s.TokenCount = *d.TokenCount
	}
	if d.Retrieval != nil {
		rm := *d.Retrieval
		s.Retrieval = &rm
	}
	return nil
}

// mergeMessage is the ID-aware append reducer for the message log.
func (s *State) mergeMessage(m llm.ChatMessage) {
	if m.ID != "" {
		for i := range s.Messages {
			if s.Messages[i].ID == m.ID {
				s.Messages[i] = m
				return
			}
		}
	}
	s.Messages = append(s.Messages, m)
}
