// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
)

// Input types. Validator tags run before any handler sees the input;
// the model never gets to push malformed arguments into a service.

type queryKnowledgeInput struct {
	Topic string `json:"topic" validate:"required,min=2"`
}

type updateKnowledgeInput struct {
	Topic     string `json:"topic" validate:"required,min=2"`
	Statement string `json:"statement" validate:"required,min=5"`
	Previous  string `json:"previous,omitempty"`
	Source    string `json:"source,omitempty"`
}

type validateFactInput struct {
	Statement string `json:"statement" validate:"required,min=5"`
}

type documentIDInput struct {
	DocumentID string `json:"document_id" validate:"required"`
}

type searchDocumentsInput struct {
	Query string `json:"query" validate:"required,min=2"`
}

type triggerAnalysisInput struct {
	Focus string `json:"focus,omitempty"`
}

type suggestQuestionsInput struct {
	Topic string `json:"topic,omitempty"`
	Count int    `json:"count,omitempty" validate:"omitempty,min=1,max=20"`
}

type addQAInput struct {
	Question string `json:"question" validate:"required,min=5"`
	Category string `json:"category,omitempty"`
}

type updateQAInput struct {
	EntryID  string `json:"entry_id" validate:"required"`
	Field    string `json:"field" validate:"required,oneof=question answer status category"`
	NewValue string `json:"new_value" validate:"required"`
	OldValue string `json:"old_value,omitempty"`
}

type deleteQAInput struct {
	EntryID string `json:"entry_id" validate:"required"`
}

type createIRLInput struct {
	Name string `json:"name" validate:"required,min=3"`
}

type addIRLItemInput struct {
	IRLID       string `json:"irl_id" validate:"required"`
	Description string `json:"description" validate:"required,min=5"`
	Category    string `json:"category" validate:"required"`
	Priority    string `json:"priority" validate:"required,oneof=high medium low"`
}

type emptyInput struct{}

// buildTools assembles the fixed tool set over the deal services.
func buildTools(svcs Services) []*Tool {
	return []*Tool{
		{
			Name:        "query_knowledge",
			Description: "Look up curated facts about a topic in the deal knowledge store.",
			InputSchema: schema([]string{"topic"}, map[string]any{
				"topic": prop("string", "Topic to look up, e.g. 'revenue' or 'customer churn'."),
			}),
			NewInput: func() any { return &queryKnowledgeInput{} },
			Handler: func(ctx context.Context, dealID string, input any) (Output, error) {
				in := input.(*queryKnowledgeInput)
				facts, err := svcs.Knowledge.Query(ctx, dealID, in.Topic)
				if err != nil {
					return Output{}, err
				}
				return result(facts, fmt.Sprintf("%d facts on %q", len(facts), in.Topic))
			},
		},
		{
			Name:        "update_knowledge",
			Description: "Propose writing or correcting a fact in the deal knowledge store. Requires user approval.",
			Mutates:     true,
			InputSchema: schema([]string{"topic", "statement"}, map[string]any{
				"topic":     prop("string", "Topic the fact belongs to."),
				"statement": prop("string", "The corrected or new fact statement."),
				"previous":  prop("string", "The prior value being corrected, if any."),
				"source":    prop("string", "Document or message the fact comes from."),
			}),
			NewInput: func() any { return &updateKnowledgeInput{} },
			Handler: func(_ context.Context, _ string, input any) (Output, error) {
				in := input.(*updateKnowledgeInput)
				// Writes never execute directly from the model; they
				// surface as an approval request.
				return Output{Approval: &datatypes.ApprovalRequest{
					ID:        uuid.NewString(),
					Kind:      datatypes.ApprovalKnowledgeUpdate,
					Summary:   fmt.Sprintf("Update knowledge on %q", in.Topic),
					CreatedAt: time.Now().UTC(),
					KnowledgeUpdate: &datatypes.KnowledgeUpdatePayload{
						Topic:     in.Topic,
						Previous:  in.Previous,
						Corrected: in.Statement,
					},
				}}, nil
			},
		},
		{
			Name:        "validate_fact",
			Description: "Check whether a statement is supported by the deal knowledge store.",
			InputSchema: schema([]string{"statement"}, map[string]any{
				"statement": prop("string", "Statement to validate."),
			}),
			NewInput: func() any { return &validateFactInput{} },
			Handler: func(ctx context.Context, dealID string, input any) (Output, error) {
				in := input.(*validateFactInput)
				supported, evidence, err := svcs.Knowledge.Validate(ctx, dealID, in.Statement)
				if err != nil {
					return Output{}, err
				}
				verdict := "unsupported"
				if supported {
					verdict = "supported"
				}
				return result(map[string]any{"supported": supported, "evidence": evidence},
					fmt.Sprintf("statement is %s by %d facts", verdict, len(evidence)))
			},
		},
		{
			Name:        "detect_contradictions",
			Description: "Find facts in the knowledge store that contradict each other.",
			InputSchema: schema(nil, map[string]any{}),
			NewInput:    func() any { return &emptyInput{} },
			Handler: func(ctx context.Context, dealID string, _ any) (Output, error) {
				found, err := svcs.Knowledge.Contradictions(ctx, dealID)
				if err != nil {
					return Output{}, err
				}
				return result(found, fmt.Sprintf("%d contradictions found", len(found)))
			},
		},
		{
			Name:        "find_information_gaps",
			Description: "List diligence topics with no coverage in the knowledge store.",
			InputSchema: schema(nil, map[string]any{}),
			NewInput:    func() any { return &emptyInput{} },
			Handler: func(ctx context.Context, dealID string, _ any) (Output, error) {
				gaps, err := svcs.Knowledge.Gaps(ctx, dealID)
				if err != nil {
					return Output{}, err
				}
				return result(gaps, fmt.Sprintf("%d gaps identified", len(gaps)))
			},
		},
		{
			Name:        "get_document_info",
			Description: "Get metadata for one uploaded document.",
			InputSchema: schema([]string{"document_id"}, map[string]any{
				"document_id": prop("string", "Document identifier."),
			}),
			NewInput: func() any { return &documentIDInput{} },
			Handler: func(ctx context.Context, dealID string, input any) (Output, error) {
				in := input.(*documentIDInput)
				ref, err := svcs.Documents.Info(ctx, dealID, in.DocumentID)
				if err != nil {
					return Output{}, err
				}
				return result(ref, "document "+ref.Name)
			},
		},
		{
			Name:        "list_documents",
			Description: "List the documents uploaded for this deal.",
			InputSchema: schema(nil, map[string]any{}),
			NewInput:    func() any { return &emptyInput{} },
			Handler: func(ctx context.Context, dealID string, _ any) (Output, error) {
				docs, err := svcs.Documents.List(ctx, dealID)
				if err != nil {
					return Output{}, err
				}
				return result(docs, fmt.Sprintf("%d documents", len(docs)))
			},
		},
		{
			Name:        "search_documents",
			Description: "Full-text search across the deal's documents.",
			InputSchema: schema([]string{"query"}, map[string]any{
				"query": prop("string", "Search query."),
			}),
			NewInput: func() any { return &searchDocumentsInput{} },
			Handler: func(ctx context.Context, dealID string, input any) (Output, error) {
				in := input.(*searchDocumentsInput)
				hits, err := svcs.Documents.Search(ctx, dealID, in.Query)
				if err != nil {
					return Output{}, err
				}
				return result(hits, fmt.Sprintf("%d passages match %q", len(hits), in.Query))
			},
		},
		{
			Name:        "trigger_financial_analysis",
			Description: "Start an asynchronous financial analysis of the deal.",
			Mutates:     true,
			InputSchema: schema(nil, map[string]any{
				"focus": prop("string", "Optional focus area, e.g. 'working capital'."),
			}),
			NewInput: func() any { return &triggerAnalysisInput{} },
			Handler: func(ctx context.Context, dealID string, input any) (Output, error) {
				in := input.(*triggerAnalysisInput)
				run, err := svcs.Analysis.Trigger(ctx, dealID, "financial", in.Focus)
				if err != nil {
					return Output{}, err
				}
				return result(run, "financial analysis started, id "+run.ID)
			},
		},
		{
			Name:        "trigger_risk_analysis",
			Description: "Start an asynchronous risk analysis of the deal.",
			Mutates:     true,
			InputSchema: schema(nil, map[string]any{
				"focus": prop("string", "Optional focus area."),
			}),
			NewInput: func() any { return &triggerAnalysisInput{} },
			Handler: func(ctx context.Context, dealID string, input any) (Output, error) {
				in := input.(*triggerAnalysisInput)
				run, err := svcs.Analysis.Trigger(ctx, dealID, "risk", in.Focus)
				if err != nil {
					return Output{}, err
				}
				return result(run, "risk analysis started, id "+run.ID)
			},
		},
		{
			Name:        "suggest_questions",
			Description: "Suggest diligence questions worth asking the seller, based on gaps and weak coverage.",
			InputSchema: schema(nil, map[string]any{
				"topic": prop("string", "Optional topic to focus suggestions on."),
				"count": prop("integer", "How many suggestions to produce (1-20)."),
			}),
			NewInput: func() any { return &suggestQuestionsInput{} },
			Handler: func(ctx context.Context, dealID string, input any) (Output, error) {
				in := input.(*suggestQuestionsInput)
				gaps, err := svcs.Knowledge.Gaps(ctx, dealID)
				if err != nil {
					return Output{}, err
				}
				count := in.Count
				if count <= 0 {
					count = 5
				}
				questions := make([]string, 0, count)
				for _, g := range gaps {
					if in.Topic != "" && g.Topic != in.Topic {
						continue
					}
					questions = append(questions,
						fmt.Sprintf("Can you provide detail on %s? (%s)", g.Topic, g.Reason))
					if len(questions) == count {
						break
					}
				}
				return result(questions, fmt.Sprintf("%d suggested questions", len(questions)))
			},
		},
		{
			Name:        "add_qa_entry",
			Description: "Add a question to the seller Q&A tracker.",
			Mutates:     true,
			InputSchema: schema([]string{"question"}, map[string]any{
				"question": prop("string", "Question text."),
				"category": prop("string", "Optional category."),
			}),
			NewInput: func() any { return &addQAInput{} },
			Handler: func(ctx context.Context, dealID string, input any) (Output, error) {
				in := input.(*addQAInput)
				entry, err := svcs.QA.Add(ctx, dealID, QAEntry{
					Question: in.Question,
					Category: in.Category,
					Status:   "open",
				})
				if err != nil {
					return Output{}, err
				}
				return result(entry, "added Q&A entry "+entry.ID)
			},
		},
		{
			Name:        "update_qa_entry",
			Description: "Propose editing an existing Q&A tracker entry. Requires user approval.",
			Mutates:     true,
			InputSchema: schema([]string{"entry_id", "field", "new_value"}, map[string]any{
				"entry_id":  prop("string", "Tracker entry identifier."),
				"field":     prop("string", "Field to change: question, answer, status, or category."),
				"new_value": prop("string", "The proposed value."),
				"old_value": prop("string", "The current value, for the approval prompt."),
			}),
			NewInput: func() any { return &updateQAInput{} },
			Handler: func(_ context.Context, _ string, input any) (Output, error) {
				in := input.(*updateQAInput)
				return Output{Approval: &datatypes.ApprovalRequest{
					ID:        uuid.NewString(),
					Kind:      datatypes.ApprovalQAModification,
					Summary:   fmt.Sprintf("Change %s on Q&A entry %s", in.Field, in.EntryID),
					CreatedAt: time.Now().UTC(),
					QAModification: &datatypes.QAModificationPayload{
						EntryID:  in.EntryID,
						Field:    in.Field,
						OldValue: in.OldValue,
						NewValue: in.NewValue,
					},
				}}, nil
			},
		},
		{
			Name:        "delete_qa_entry",
			Description: "Propose deleting a Q&A tracker entry. Destructive; requires user approval.",
			Mutates:     true,
			InputSchema: schema([]string{"entry_id"}, map[string]any{
				"entry_id": prop("string", "Tracker entry identifier."),
			}),
			NewInput: func() any { return &deleteQAInput{} },
			Handler: func(_ context.Context, _ string, input any) (Output, error) {
				in := input.(*deleteQAInput)
				return Output{Approval: &datatypes.ApprovalRequest{
					ID:        uuid.NewString(),
					Kind:      datatypes.ApprovalDestructive,
					Summary:   "Delete Q&A entry " + in.EntryID,
					CreatedAt: time.Now().UTC(),
					Destructive: &datatypes.DestructivePayload{
						Operation: "delete_qa_entry",
						Targets:   []string{in.EntryID},
					},
				}}, nil
			},
		},
		{
			Name:        "list_qa_entries",
			Description: "List the Q&A tracker entries for this deal.",
			InputSchema: schema(nil, map[string]any{}),
			NewInput:    func() any { return &emptyInput{} },
			Handler: func(ctx context.Context, dealID string, _ any) (Output, error) {
				entries, err := svcs.QA.List(ctx, dealID)
				if err != nil {
					return Output{}, err
				}
				return result(entries, fmt.Sprintf("%d Q&A entries", len(entries)))
			},
		},
		{
			Name:        "create_irl",
			Description: "Create a new information request list for the seller.",
			Mutates:     true,
			InputSchema: schema([]string{"name"}, map[string]any{
				"name": prop("string", "Name of the request list, e.g. 'Financial DD Phase 1'."),
			}),
			NewInput: func() any { return &createIRLInput{} },
			Handler: func(ctx context.Context, dealID string, input any) (Output, error) {
				in := input.(*createIRLInput)
				irl, err := svcs.IRL.Create(ctx, dealID, in.Name)
				if err != nil {
					return Output{}, err
				}
				return result(irl, "created IRL "+irl.ID)
			},
		},
		{
			Name:        "add_irl_item",
			Description: "Add a request item to an existing information request list.",
			Mutates:     true,
			InputSchema: schema([]string{"irl_id", "description", "category", "priority"}, map[string]any{
				"irl_id":      prop("string", "Target IRL identifier."),
				"description": prop("string", "What is being requested."),
				"category":    prop("string", "Workstream category, e.g. 'financial'."),
				"priority":    prop("string", "high, medium, or low."),
			}),
			NewInput: func() any { return &addIRLItemInput{} },
			Handler: func(ctx context.Context, dealID string, input any) (Output, error) {
				in := input.(*addIRLItemInput)
				item, err := svcs.IRL.AddItem(ctx, dealID, in.IRLID, IRLItem{
					Description: in.Description,
					Category:    in.Category,
					Priority:    in.Priority,
					Status:      "requested",
				})
				if err != nil {
					return Output{}, err
				}
				return result(item, "added IRL item "+item.ID)
			},
		},
	}
}

// result renders a handler value into the Full/Summary pair.
func result(v any, summary string) (Output, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Output{}, fmt.Errorf("encode tool result: %w", err)
	}
	return Output{Full: string(raw), Summary: summary}, nil
}
