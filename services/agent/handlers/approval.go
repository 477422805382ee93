// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/supervisor"
	"github.com/dealdesk/dealdesk/services/llm"
)

// ApprovalDecisionRequest is the body of POST /v1/approvals/decision.
type ApprovalDecisionRequest struct {
	DealID         string `json:"deal_id" binding:"required"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id" binding:"required"`
	Mode           string `json:"mode" binding:"omitempty,oneof=chat cim irl"`
	ApprovalID     string `json:"approval_id" binding:"required"`
	Decision       string `json:"decision" binding:"required,oneof=approve reject"`
}

// HandleApprovalDecision resolves the pending approval on a thread.
//
// Approval executes the deferred action against the deal services and
// clears the slot; rejection clears the slot and records the refusal
// in the transcript so the model does not re-propose blindly. A
// decision against a stale or absent approval returns 409 rather than
// acting on the wrong request.
func HandleApprovalDecision(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.ApprovalDecision")
		defer span.End()

		var req ApprovalDecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		mode := datatypes.WorkflowMode(req.Mode)
		if req.Mode == "" {
			mode = datatypes.ModeChat
		}
		thread, err := datatypes.NewThreadID(mode, req.DealID, req.UserID, req.ConversationID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		threadKey := thread.String()

		st, found, err := app.Checkpointer.Load(ctx, threadKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkpoint load failed"})
			return
		}
		if !found || st.PendingApproval == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "no approval pending on this thread"})
			return
		}
		if st.PendingApproval.ID != req.ApprovalID {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "approval id does not match the pending request",
				"pending": st.PendingApproval.ID,
			})
			return
		}
		kind := st.PendingApproval.Kind
		span.SetAttributes(
			attribute.String("approval.kind", string(kind)),
			attribute.String("approval.decision", req.Decision),
		)

		var delta *datatypes.Delta
		if req.Decision == "approve" {
			delta, err = app.applyApproval(ctx, req.DealID, st.PendingApproval)
			if err != nil {
				app.Logger.Error("approved action failed",
					"approval_id", req.ApprovalID,
					"kind", string(st.PendingApproval.Kind),
					"error", err.Error())
				c.JSON(http.StatusInternalServerError, gin.H{"error": "approved action failed"})
				return
			}
			// Cached read-tool results predate the applied change.
			if kind != datatypes.ApprovalPlan {
				app.ToolCache.InvalidateDeal(ctx, req.DealID)
			}
		} else {
			delta = &datatypes.Delta{
				Messages: []llm.ChatMessage{assistantNote(
					"The proposed change was declined: " + st.PendingApproval.Summary)},
			}
		}
		delta.ClearApproval = true

		if err := st.Apply(delta); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "state update failed"})
			return
		}
		if err := app.Checkpointer.Save(ctx, threadKey, st); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkpoint save failed"})
			return
		}
		app.recordApproval(ctx, kind, req.Decision)

		c.JSON(http.StatusOK, gin.H{
			"thread_id": threadKey,
			"decision":  req.Decision,
		})
	}
}

// applyApproval executes the deferred action carried by an approved
// request. The returned delta records the outcome in the transcript;
// plan approvals additionally seed the memorandum workflow state.
func (a *App) applyApproval(ctx context.Context, dealID string, req *datatypes.ApprovalRequest) (*datatypes.Delta, error) {
	switch req.Kind {
	case datatypes.ApprovalKnowledgeUpdate:
		p := req.KnowledgeUpdate
		fact, err := a.Services.Knowledge.Upsert(ctx, dealID, supervisor.Fact{
			Topic:     p.Topic,
			Statement: p.Corrected,
			Source:    "user approved correction",
		})
		if err != nil {
			return nil, err
		}
		return &datatypes.Delta{Messages: []llm.ChatMessage{assistantNote(
			fmt.Sprintf("Recorded on %q: %s", fact.Topic, fact.Statement))}}, nil

	case datatypes.ApprovalQAModification:
		p := req.QAModification
		entry, err := a.findQAEntry(ctx, dealID, p.EntryID)
		if err != nil {
			return nil, err
		}
		switch p.Field {
		case "question":
			entry.Question = p.NewValue
		case "answer":
			entry.Answer = p.NewValue
		case "status":
			entry.Status = p.NewValue
		case "category":
			entry.Category = p.NewValue
		default:
			return nil, fmt.Errorf("unknown Q&A field %q", p.Field)
		}
		if _, err := a.Services.QA.Update(ctx, dealID, entry); err != nil {
			return nil, err
		}
		return &datatypes.Delta{Messages: []llm.ChatMessage{assistantNote(
			fmt.Sprintf("Updated %s on Q&A entry %s.", p.Field, p.EntryID))}}, nil

	case datatypes.ApprovalDestructive:
		p := req.Destructive
		if p.Operation != "delete_qa_entry" {
			return nil, fmt.Errorf("unsupported destructive operation %q", p.Operation)
		}
		for _, id := range p.Targets {
			if err := a.Services.QA.Delete(ctx, dealID, id); err != nil {
				return nil, err
			}
		}
		return &datatypes.Delta{Messages: []llm.ChatMessage{assistantNote(
			fmt.Sprintf("Deleted %d Q&A entries.", len(p.Targets)))}}, nil

	case datatypes.ApprovalPlan:
		return &datatypes.Delta{
			CIMState: supervisor.SeedCIMState(),
			Messages: []llm.ChatMessage{assistantNote(
				"Plan approved. Drafting begins with the next turn.")},
		}, nil
	}
	return nil, fmt.Errorf("unknown approval kind %q", req.Kind)
}

func (a *App) findQAEntry(ctx context.Context, dealID, entryID string) (supervisor.QAEntry, error) {
	entries, err := a.Services.QA.List(ctx, dealID)
	if err != nil {
		return supervisor.QAEntry{}, err
	}
	for _, e := range entries {
		if e.ID == entryID {
			return e, nil
		}
	}
	return supervisor.QAEntry{}, fmt.Errorf("qa entry %q not found", entryID)
}

func (a *App) recordApproval(ctx context.Context, kind datatypes.ApprovalKind, decision string) {
	if a.Metrics == nil {
		return
	}
	a.Metrics.ApprovalsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("decision", decision),
	))
}

func assistantNote(text string) llm.ChatMessage {
	return llm.ChatMessage{
		ID:      uuid.NewString(),
		Role:    llm.RoleAssistant,
		Content: text,
	}
}
