// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// ApprovalKind discriminates the approval request union. The set is
// closed; consumers switch exhaustively on it.
type ApprovalKind string

const (
	// ApprovalQAModification asks the user to confirm an edit to a
	// question-and-answer tracker entry.
	ApprovalQAModification ApprovalKind = "qa_modification"

	// ApprovalPlan asks the user to confirm a proposed multi-step
	// plan before execution.
	ApprovalPlan ApprovalKind = "plan_approval"

	// ApprovalKnowledgeUpdate asks the user to confirm writing a
	// correction into the deal knowledge store.
	ApprovalKnowledgeUpdate ApprovalKind = "knowledge_update"

	// ApprovalDestructive asks the user to confirm a destructive
	// operation such as deleting tracker entries.
	ApprovalDestructive ApprovalKind = "destructive_action"
)

// ApprovalRequest is a tagged union: exactly one payload field is
// non-nil, matching Kind. It occupies the single pending-approval slot
// on the state until resolved or superseded.
type ApprovalRequest struct {
	ID        string       `json:"id"`
	Kind      ApprovalKind `json:"kind"`
	Summary   string       `json:"summary"` // human-readable one-liner for the client
	CreatedAt time.Time    `json:"created_at"`

	QAModification  *QAModificationPayload  `json:"qa_modification,omitempty"`
	Plan            *PlanPayload            `json:"plan,omitempty"`
	KnowledgeUpdate *KnowledgeUpdatePayload `json:"knowledge_update,omitempty"`
	Destructive     *DestructivePayload     `json:"destructive,omitempty"`
}

// QAModificationPayload describes a proposed tracker edit.
type QAModificationPayload struct {
	EntryID  string `json:"entry_id"`
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// PlanPayload describes a proposed multi-step plan.
type PlanPayload struct {
	Objective string   `json:"objective"`
	Steps     []string `json:"steps"`
}

// KnowledgeUpdatePayload describes a correction to be written into the
// deal knowledge store.
type KnowledgeUpdatePayload struct {
	Topic     string `json:"topic"`
	Previous  string `json:"previous"`
	Corrected string `json:"corrected"`
}

// DestructivePayload describes an operation that cannot be undone.
type DestructivePayload struct {
	Operation string   `json:"operation"`
	Targets   []string `json:"targets"`
}

// Validate checks the tag/payload pairing: exactly one payload must be
// set and it must match Kind.
func (a *ApprovalRequest) Validate() error {
	set := 0
	var match bool
	if a.QAModification != nil {
		set++
		match = match || a.Kind == ApprovalQAModification
	}
	if a.Plan != nil {
		set++
		match = match || a.Kind == ApprovalPlan
	}
	if a.KnowledgeUpdate != nil {
		set++
		match = match || a.Kind == ApprovalKnowledgeUpdate
	}
	if a.Destructive != nil {
		set++
		match = match || a.Kind == ApprovalDestructive
	}
	if set != 1 {
		return fmt.Errorf("approval request must carry exactly one payload, got %d", set)
	}
	if !match {
		return fmt.Errorf("approval payload does not match kind %q", a.Kind)
	}
	return nil
}

// ApprovalDecision is the client's resolution of a pending request.
type ApprovalDecision struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

// String renders a compact form for logs. Payload contents stay out of
// log lines.
func (a *ApprovalRequest) String() string {
	return fmt.Sprintf("approval[%s kind=%s]", a.ID, a.Kind)
}

// MarshalJSON validates before encoding so a malformed union never
// reaches the wire.
func (a *ApprovalRequest) MarshalJSON() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	type alias ApprovalRequest
	return json.Marshal((*alias)(a))
}
