// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dealdesk/dealdesk/services/agent/cache"
	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/graph"
	"github.com/dealdesk/dealdesk/services/agent/uncertainty"
	"github.com/dealdesk/dealdesk/services/llm"
)

// =============================================================================
// Stubs
// =============================================================================

type stubKnowledge struct {
	facts []Fact
}

func (s *stubKnowledge) Query(_ context.Context, _, topic string) ([]Fact, error) {
	var out []Fact
	for _, f := range s.facts {
		if f.Topic == topic {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *stubKnowledge) Upsert(_ context.Context, _ string, f Fact) (Fact, error) {
	s.facts = append(s.facts, f)
	return f, nil
}

func (s *stubKnowledge) Validate(_ context.Context, _, statement string) (bool, []Fact, error) {
	for _, f := range s.facts {
		if strings.Contains(statement, f.Statement) {
			return true, []Fact{f}, nil
		}
	}
	return false, nil, nil
}

func (s *stubKnowledge) Contradictions(context.Context, string) ([]Contradiction, error) {
	return nil, nil
}

func (s *stubKnowledge) Gaps(context.Context, string) ([]Gap, error) {
	return []Gap{{Topic: "customer churn", Reason: "no retention data uploaded"}}, nil
}

type stubQA struct {
	entries []QAEntry
}

func (s *stubQA) List(context.Context, string) ([]QAEntry, error) { return s.entries, nil }

func (s *stubQA) Add(_ context.Context, _ string, e QAEntry) (QAEntry, error) {
	e.ID = "qa-1"
	e.CreatedAt = time.Now().UTC()
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *stubQA) Update(_ context.Context, _ string, e QAEntry) (QAEntry, error) { return e, nil }
func (s *stubQA) Delete(context.Context, string, string) error                   { return nil }

type stubIRL struct{}

func (stubIRL) Create(_ context.Context, _, name string) (IRL, error) {
	return IRL{ID: "irl-1", Name: name, CreatedAt: time.Now().UTC()}, nil
}

func (stubIRL) AddItem(_ context.Context, _, _ string, item IRLItem) (IRLItem, error) {
	item.ID = "item-1"
	return item, nil
}

func (stubIRL) Get(context.Context, string, string) (IRL, error) { return IRL{}, nil }

type stubDocs struct {
	searchResult string
}

func (stubDocs) List(context.Context, string) ([]datatypes.DocumentRef, error) {
	return []datatypes.DocumentRef{{ID: "doc-1", Name: "CIM.pdf"}}, nil
}

func (stubDocs) Info(_ context.Context, _, id string) (datatypes.DocumentRef, error) {
	return datatypes.DocumentRef{ID: id, Name: "CIM.pdf"}, nil
}

func (s stubDocs) Search(context.Context, string, string) ([]datatypes.SourceCitation, error) {
	return []datatypes.SourceCitation{{DocumentID: "doc-1", DocumentName: "CIM.pdf", Snippet: s.searchResult}}, nil
}

type stubAnalysis struct {
	focus string
}

func (s *stubAnalysis) Trigger(_ context.Context, _, kind, focus string) (AnalysisRun, error) {
	s.focus = focus
	return AnalysisRun{ID: "run-1", Kind: kind, Focus: focus, Status: "running", Started: time.Now().UTC()}, nil
}

func testServices() Services {
	return Services{
		Knowledge: &stubKnowledge{facts: []Fact{
			{ID: "f1", Topic: "revenue", Statement: "FY2025 revenue was $5.2M"},
		}},
		QA:        &stubQA{},
		IRL:       stubIRL{},
		Documents: stubDocs{searchResult: "revenue grew 40% year over year"},
		Analysis:  &stubAnalysis{},
	}
}

// scriptedClient returns canned responses in order and records the
// requests it saw.
type scriptedClient struct {
	responses []*llm.ChatResponse
	requests  []*llm.ChatRequest
	calls     int
	err       error
}

func (s *scriptedClient) Name() string { return "scripted" }

func (s *scriptedClient) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return s.ChatStream(ctx, req, nil)
}

func (s *scriptedClient) ChatStream(_ context.Context, req *llm.ChatRequest, onToken llm.TokenHandler) (*llm.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, req)
	if s.calls >= len(s.responses) {
		return &llm.ChatResponse{Content: "done"}, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	if onToken != nil && resp.Content != "" {
		if err := onToken(resp.Content); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func newTestCache(t *testing.T) *cache.ToolResultCache {
	t.Helper()
	front := cache.New(&cache.Config{Store: cache.NewMemoryStore(nil)})
	return cache.NewToolResultCache(front)
}

func chatTurn(t *testing.T) *graph.Turn {
	t.Helper()
	tid, err := datatypes.NewThreadID(datatypes.ModeChat, "deal-1", "user-1", "conv-1")
	if err != nil {
		t.Fatalf("NewThreadID: %v", err)
	}
	return &graph.Turn{
		Thread:      tid,
		UserMessage: llm.ChatMessage{Role: llm.RoleUser, Content: "What was revenue?"},
	}
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistryExposesFullToolSet(t *testing.T) {
	r := NewRegistry(testServices())
	if r.Len() != 17 {
		t.Fatalf("tool count = %d, want 17", r.Len())
	}
	defs := r.Definitions()
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name >= defs[i].Name {
			t.Errorf("definitions not sorted: %q before %q", defs[i-1].Name, defs[i].Name)
		}
	}
}

func TestRegistryRejectsUnknownTool(t *testing.T) {
	r := NewRegistry(testServices())
	_, err := r.Execute(context.Background(), "deal-1", llm.ToolCall{ID: "c1", Name: "drop_tables"})
	ae := datatypes.AsAgentError(err)
	if ae.Code != datatypes.ErrCodeToolInput {
		t.Errorf("code = %q, want %q", ae.Code, datatypes.ErrCodeToolInput)
	}
}

func TestRegistryValidatesInput(t *testing.T) {
	r := NewRegistry(testServices())
	tests := []struct {
		name string
		tool string
		args string
	}{
		{"missing required topic", "query_knowledge", `{}`},
		{"topic too short", "query_knowledge", `{"topic":"x"}`},
		{"bad enum field", "update_qa_entry", `{"entry_id":"e1","field":"owner","new_value":"me"}`},
		{"priority out of set", "add_irl_item", `{"irl_id":"i1","description":"audited accounts","category":"financial","priority":"urgent"}`},
		{"not json", "query_knowledge", `topic=revenue`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Execute(context.Background(), "deal-1", llm.ToolCall{ID: "c", Name: tc.tool, Arguments: tc.args})
			if err == nil {
				t.Fatal("expected validation error")
			}
			ae := datatypes.AsAgentError(err)
			if ae.Code != datatypes.ErrCodeToolInput {
				t.Errorf("code = %q, want %q", ae.Code, datatypes.ErrCodeToolInput)
			}
			if !ae.Recoverable {
				t.Error("input errors should be recoverable")
			}
		})
	}
}

func TestRegistryExecutesReadTool(t *testing.T) {
	r := NewRegistry(testServices())
	out, err := r.Execute(context.Background(), "deal-1", llm.ToolCall{
		ID: "c1", Name: "query_knowledge", Arguments: `{"topic":"revenue"}`,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.Full, "$5.2M") {
		t.Errorf("full result missing fact: %q", out.Full)
	}
	if out.Approval != nil {
		t.Error("read tool must not request approval")
	}
}

func TestTriggerAnalysisCarriesFocus(t *testing.T) {
	svcs := testServices()
	an := &stubAnalysis{}
	svcs.Analysis = an
	r := NewRegistry(svcs)

	out, err := r.Execute(context.Background(), "deal-1", llm.ToolCall{
		ID: "c1", Name: "trigger_financial_analysis", Arguments: `{"focus":"working capital"}`,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if an.focus != "working capital" {
		t.Errorf("service focus = %q, want %q", an.focus, "working capital")
	}
	if !strings.Contains(out.Full, "working capital") {
		t.Errorf("run handle missing focus: %q", out.Full)
	}
}

func TestWriteToolsReturnApprovalNotExecution(t *testing.T) {
	r := NewRegistry(testServices())
	tests := []struct {
		tool string
		args string
		kind datatypes.ApprovalKind
	}{
		{"update_knowledge", `{"topic":"revenue","statement":"FY2025 revenue was $6.1M","previous":"$5.2M"}`, datatypes.ApprovalKnowledgeUpdate},
		{"update_qa_entry", `{"entry_id":"e1","field":"answer","new_value":"Confirmed by seller"}`, datatypes.ApprovalQAModification},
		{"delete_qa_entry", `{"entry_id":"e1"}`, datatypes.ApprovalDestructive},
	}
	for _, tc := range tests {
		t.Run(tc.tool, func(t *testing.T) {
			out, err := r.Execute(context.Background(), "deal-1", llm.ToolCall{ID: "c", Name: tc.tool, Arguments: tc.args})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if out.Approval == nil {
				t.Fatal("write tool must return an approval request")
			}
			if out.Approval.Kind != tc.kind {
				t.Errorf("kind = %q, want %q", out.Approval.Kind, tc.kind)
			}
			if err := out.Approval.Validate(); err != nil {
				t.Errorf("approval payload invalid: %v", err)
			}
		})
	}
}

// =============================================================================
// Supervisor loop
// =============================================================================

func TestSupervisorAnswersWithoutTools(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{Content: "Revenue was $5.2M in FY2025."},
	}}
	sup := New(&Config{Client: client, Registry: NewRegistry(testServices())})

	st := &datatypes.State{}
	delta, err := sup.run(context.Background(), chatTurn(t), st)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(delta.Messages) != 1 || delta.Messages[0].Role != llm.RoleAssistant {
		t.Fatalf("delta messages = %+v", delta.Messages)
	}
	if delta.Messages[0].ID == "" {
		t.Error("assistant message needs a stable ID")
	}
}

func TestSupervisorIncorporatesToolResultsInOrder(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "query_knowledge", Arguments: `{"topic":"revenue"}`},
			{ID: "c2", Name: "list_documents", Arguments: `{}`},
		}},
		{Content: "Revenue was $5.2M per the knowledge store."},
	}}
	sup := New(&Config{Client: client, Registry: NewRegistry(testServices())})

	delta, err := sup.run(context.Background(), chatTurn(t), &datatypes.State{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// assistant(tool calls), tool result c1, tool result c2, final assistant
	if len(delta.Messages) != 4 {
		t.Fatalf("message count = %d, want 4", len(delta.Messages))
	}
	if delta.Messages[1].ToolCallID != "c1" || delta.Messages[2].ToolCallID != "c2" {
		t.Errorf("tool results out of order: %q then %q",
			delta.Messages[1].ToolCallID, delta.Messages[2].ToolCallID)
	}

	// The second model request must carry the tool results.
	if len(client.requests) != 2 {
		t.Fatalf("model calls = %d, want 2", len(client.requests))
	}
	second := client.requests[1].Messages
	if second[len(second)-2].Role != llm.RoleTool || second[len(second)-1].Role != llm.RoleTool {
		t.Error("tool results missing from follow-up request")
	}
}

func TestSupervisorPausesOnApproval(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "delete_qa_entry", Arguments: `{"entry_id":"e1"}`},
		}},
		{Content: "should never be requested"},
	}}
	sup := New(&Config{Client: client, Registry: NewRegistry(testServices())})

	delta, err := sup.run(context.Background(), chatTurn(t), &datatypes.State{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if delta.PendingApproval == nil {
		t.Fatal("expected pending approval")
	}
	if delta.PendingApproval.Kind != datatypes.ApprovalDestructive {
		t.Errorf("kind = %q", delta.PendingApproval.Kind)
	}
	if client.calls != 1 {
		t.Errorf("model called %d times after approval pause, want 1", client.calls)
	}
}

func TestSupervisorDoesNotResumeWhileApprovalPending(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{{Content: "nope"}}}
	sup := New(&Config{Client: client, Registry: NewRegistry(testServices())})

	st := &datatypes.State{PendingApproval: &datatypes.ApprovalRequest{
		ID: "a1", Kind: datatypes.ApprovalDestructive,
		Destructive: &datatypes.DestructivePayload{Operation: "delete_qa_entry", Targets: []string{"e1"}},
	}}
	_, err := sup.run(context.Background(), chatTurn(t), st)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if client.calls != 0 {
		t.Errorf("model consulted %d times with unresolved approval, want 0", client.calls)
	}
}

func TestSupervisorSummarizesLargeToolResults(t *testing.T) {
	big := strings.Repeat("quarterly revenue detail row; ", 100)
	svcs := testServices()
	svcs.Documents = stubDocs{searchResult: big}

	client := &scriptedClient{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "search_documents", Arguments: `{"query":"revenue"}`},
		}},
		{Content: "final"},
	}}
	sup := New(&Config{
		Client:       client,
		Registry:     NewRegistry(svcs),
		ToolCache:    newTestCache(t),
		SummaryFloor: 200,
	})

	_, err := sup.run(context.Background(), chatTurn(t), &datatypes.State{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	second := client.requests[1].Messages
	toolMsg := second[len(second)-1]
	if strings.Contains(toolMsg.Content, big[:120]) {
		t.Error("full oversized result leaked into model context")
	}
	if !strings.Contains(toolMsg.Content, "passages match") {
		t.Errorf("summary missing from tool message: %q", toolMsg.Content)
	}
	if !strings.Contains(toolMsg.Content, "tool/deal-1/g0/search_documents/") {
		t.Errorf("cache reference missing from tool message: %q", toolMsg.Content)
	}
}

func TestSupervisorRecordsToolInputErrorAndContinues(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "query_knowledge", Arguments: `{"topic":"x"}`},
		}},
		{Content: "adjusted after rejection"},
	}}
	sup := New(&Config{Client: client, Registry: NewRegistry(testServices())})

	delta, err := sup.run(context.Background(), chatTurn(t), &datatypes.State{})
	if err != nil {
		t.Fatalf("turn must survive a single bad tool call: %v", err)
	}
	if len(delta.Errors) != 1 || delta.Errors[0].Code != datatypes.ErrCodeToolInput {
		t.Fatalf("errors = %+v", delta.Errors)
	}
	if client.calls != 2 {
		t.Errorf("model calls = %d, want 2 (rejection fed back)", client.calls)
	}
}

func TestSupervisorWrapsProviderFailure(t *testing.T) {
	client := &scriptedClient{err: errors.New("all providers exhausted")}
	sup := New(&Config{Client: client, Registry: NewRegistry(testServices())})

	_, err := sup.run(context.Background(), chatTurn(t), &datatypes.State{})
	ae := datatypes.AsAgentError(err)
	if ae.Code != datatypes.ErrCodeLLMFailure {
		t.Errorf("code = %q, want %q", ae.Code, datatypes.ErrCodeLLMFailure)
	}
}

func TestSupervisorPromptCarriesSummaryAndRetrievalContext(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{{Content: "ok"}}}
	sup := New(&Config{Client: client, Registry: NewRegistry(testServices())})

	st := &datatypes.State{
		HistorySummary: "User asked about churn earlier.",
		Scratchpad: map[string]any{
			ScratchRetrievalContext: "[Source: CIM.pdf | p.12]\nrevenue grew 40%",
		},
	}
	if _, err := sup.run(context.Background(), chatTurn(t), st); err != nil {
		t.Fatalf("run: %v", err)
	}

	sys := client.requests[0].Messages[0]
	if sys.Role != llm.RoleSystem {
		t.Fatalf("first message role = %q", sys.Role)
	}
	if !strings.Contains(sys.Content, "churn earlier") {
		t.Error("history summary missing from system prompt")
	}
	if !strings.Contains(sys.Content, "revenue grew 40%") {
		t.Error("retrieval context missing from system prompt")
	}
}

func TestSupervisorExcludesSummarizedMessages(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{{Content: "ok"}}}
	sup := New(&Config{Client: client, Registry: NewRegistry(testServices())})

	st := &datatypes.State{
		HistorySummary: "Earlier the user asked about churn and debt.",
		Scratchpad:     map[string]any{ScratchSummarizedThrough: float64(4)},
	}
	for i := 0; i < 6; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		st.Messages = append(st.Messages, llm.ChatMessage{ID: fmt.Sprintf("m%d", i), Role: role, Content: fmt.Sprintf("message %d", i)})
	}

	if _, err := sup.run(context.Background(), chatTurn(t), st); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := client.requests[0].Messages
	// system prompt plus the two live messages
	if len(got) != 3 {
		t.Fatalf("prompt messages = %d, want 3", len(got))
	}
	if got[1].ID != "m4" || got[2].ID != "m5" {
		t.Errorf("live window = %q, %q", got[1].ID, got[2].ID)
	}
}

func TestSupervisorServesRepeatCallFromToolCache(t *testing.T) {
	svcs := testServices()
	counting := &countingKnowledge{inner: svcs.Knowledge}
	svcs.Knowledge = counting

	mk := func() *scriptedClient {
		return &scriptedClient{responses: []*llm.ChatResponse{
			{ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "query_knowledge", Arguments: `{"topic":"revenue"}`},
			}},
			{Content: "answer"},
		}}
	}
	tc := newTestCache(t)

	sup := New(&Config{Client: mk(), Registry: NewRegistry(svcs), ToolCache: tc})
	if _, err := sup.run(context.Background(), chatTurn(t), &datatypes.State{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sup = New(&Config{Client: mk(), Registry: NewRegistry(svcs), ToolCache: tc})
	if _, err := sup.run(context.Background(), chatTurn(t), &datatypes.State{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if counting.queries != 1 {
		t.Errorf("service queried %d times, want 1 (second served from cache)", counting.queries)
	}
}

func TestSupervisorWriteToolRetiresCachedReads(t *testing.T) {
	svcs := testServices()
	qa := &stubQA{}
	svcs.QA = qa

	client := &scriptedClient{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "list_qa_entries", Arguments: `{}`}}},
		{ToolCalls: []llm.ToolCall{{ID: "c2", Name: "add_qa_entry", Arguments: `{"question":"What drove churn in 2024?"}`}}},
		{ToolCalls: []llm.ToolCall{{ID: "c3", Name: "list_qa_entries", Arguments: `{}`}}},
		{Content: "done"},
	}}
	sup := New(&Config{Client: client, Registry: NewRegistry(svcs), ToolCache: newTestCache(t)})

	delta, err := sup.run(context.Background(), chatTurn(t), &datatypes.State{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var listResults []string
	for _, m := range delta.Messages {
		if m.ToolCallID == "c1" || m.ToolCallID == "c3" {
			listResults = append(listResults, m.Content)
		}
	}
	if len(listResults) != 2 {
		t.Fatalf("list results = %d, want 2", len(listResults))
	}
	if strings.Contains(listResults[0], "What drove churn") {
		t.Errorf("first list saw the entry before it was added: %q", listResults[0])
	}
	if !strings.Contains(listResults[1], "What drove churn") {
		t.Errorf("list after add served a stale cached result: %q", listResults[1])
	}
}

func TestSupervisorDoesNotCacheMutatingTools(t *testing.T) {
	svcs := testServices()
	qa := &stubQA{}
	svcs.QA = qa

	mk := func() *scriptedClient {
		return &scriptedClient{responses: []*llm.ChatResponse{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "add_qa_entry", Arguments: `{"question":"Is the churn data audited?"}`}}},
			{Content: "ok"},
		}}
	}
	tc := newTestCache(t)

	for i := 0; i < 2; i++ {
		sup := New(&Config{Client: mk(), Registry: NewRegistry(svcs), ToolCache: tc})
		if _, err := sup.run(context.Background(), chatTurn(t), &datatypes.State{}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(qa.entries) != 2 {
		t.Errorf("entries = %d, want 2 (write replayed from cache)", len(qa.entries))
	}
}

func TestSupervisorPromptSuggestsNextStepsWhenUncertain(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{{Content: "ok"}}}
	sup := New(&Config{Client: client, Registry: NewRegistry(testServices())})

	st := &datatypes.State{
		DealContext: &datatypes.DealContext{DealID: "deal-1", DealName: "Project Atlas"},
		Scratchpad:  map[string]any{ScratchUncertainty: string(uncertainty.LevelComplete)},
	}
	if _, err := sup.run(context.Background(), chatTurn(t), st); err != nil {
		t.Fatalf("run: %v", err)
	}

	sys := client.requests[0].Messages[0].Content
	if !strings.Contains(sys, "Upload the relevant deal documents") {
		t.Errorf("prompt missing upload suggestion:\n%s", sys)
	}
	if strings.Contains(strings.ToLower(sys), "search additional sources") {
		t.Errorf("prompt suggests searching a deal with no documents:\n%s", sys)
	}
}

func TestSupervisorPromptOmitsNextStepsWhenConfident(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{{Content: "ok"}}}
	sup := New(&Config{Client: client, Registry: NewRegistry(testServices())})

	st := &datatypes.State{
		Scratchpad: map[string]any{ScratchUncertainty: string(uncertainty.LevelNone)},
	}
	if _, err := sup.run(context.Background(), chatTurn(t), st); err != nil {
		t.Fatalf("run: %v", err)
	}

	sys := client.requests[0].Messages[0].Content
	if strings.Contains(sys, "next steps") {
		t.Errorf("confident turn should carry no next-step guidance:\n%s", sys)
	}
}

type countingKnowledge struct {
	inner   Knowledge
	queries int
}

func (c *countingKnowledge) Query(ctx context.Context, dealID, topic string) ([]Fact, error) {
	c.queries++
	return c.inner.Query(ctx, dealID, topic)
}

func (c *countingKnowledge) Upsert(ctx context.Context, dealID string, f Fact) (Fact, error) {
	return c.inner.Upsert(ctx, dealID, f)
}

func (c *countingKnowledge) Validate(ctx context.Context, dealID, s string) (bool, []Fact, error) {
	return c.inner.Validate(ctx, dealID, s)
}

func (c *countingKnowledge) Contradictions(ctx context.Context, dealID string) ([]Contradiction, error) {
	return c.inner.Contradictions(ctx, dealID)
}

func (c *countingKnowledge) Gaps(ctx context.Context, dealID string) ([]Gap, error) {
	return c.inner.Gaps(ctx, dealID)
}
