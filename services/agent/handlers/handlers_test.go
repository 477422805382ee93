// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/store"
	"github.com/dealdesk/dealdesk/services/agent/stream"
	"github.com/dealdesk/dealdesk/services/agent/supervisor"
	"github.com/dealdesk/dealdesk/services/agent/uncertainty"
	"github.com/dealdesk/dealdesk/services/llm"
)

// scriptedClient replays canned responses in order and streams their
// content word by word.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	calls     int
}

func (s *scriptedClient) Name() string { return "scripted" }

func (s *scriptedClient) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "generated", nil
}

func (s *scriptedClient) next() (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("scripted client exhausted after %d calls", s.calls)
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func (s *scriptedClient) Chat(_ context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	return s.next()
}

func (s *scriptedClient) ChatStream(_ context.Context, _ *llm.ChatRequest, onToken llm.TokenHandler) (*llm.ChatResponse, error) {
	resp, err := s.next()
	if err != nil {
		return nil, err
	}
	for _, word := range strings.SplitAfter(resp.Content, " ") {
		if err := onToken(word); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func newTestApp(t *testing.T, responses ...*llm.ChatResponse) (*App, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	dc := mem.AddDeal(datatypes.DealContext{
		DealID:   "deal-1",
		DealName: "Project Atlas",
		Status:   "active",
	})
	if err := mem.AddDocument(dc.DealID, datatypes.DocumentRef{
		ID:   "doc-1",
		Name: "CIM.pdf",
	}, []string{
		"FY2025 revenue was $5.2M, up 18% year over year.",
		"The company serves 40 enterprise customers.",
	}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	app := NewApp(&AppConfig{
		Store:    mem,
		Services: mem.Services(),
		Client:   &scriptedClient{responses: responses},
	})
	return app, mem
}

func newTestRouter(app *App) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, app)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func chatBody(message string) map[string]any {
	return map[string]any{
		"deal_id":         "deal-1",
		"user_id":         "user-1",
		"conversation_id": "conv-1",
		"message":         message,
	}
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	router := newTestRouter(app)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body missing status: %s", rec.Body.String())
	}
}

func TestChatStreamEmitsTokensAndDone(t *testing.T) {
	app, _ := newTestApp(t, &llm.ChatResponse{
		Content:  "FY2025 revenue was $5.2M.",
		Provider: "scripted",
	})
	router := newTestRouter(app)

	rec := postJSON(t, router, "/v1/chat/stream", chatBody("What was the revenue?"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: token") {
		t.Errorf("no token events in stream:\n%s", body)
	}
	if !strings.Contains(body, "event: source_added") {
		t.Errorf("no source events in stream:\n%s", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("no done event in stream:\n%s", body)
	}
	if !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("done event missing ok status:\n%s", body)
	}
	if !strings.Contains(body, `"provider":"scripted"`) {
		t.Errorf("done event missing provider:\n%s", body)
	}
}

func TestChatStreamErrorStillEndsWithDone(t *testing.T) {
	// No scripted responses: the model call fails and the turn errors.
	app, _ := newTestApp(t)
	router := newTestRouter(app)

	rec := postJSON(t, router, "/v1/chat/stream", chatBody("What was the revenue?"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Fatalf("no error event in stream:\n%s", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("errored stream has no terminal done event:\n%s", body)
	}
	if !strings.Contains(body, `"status":"error"`) {
		t.Errorf("done event missing error status:\n%s", body)
	}
	if idx := strings.LastIndex(body, "event: error"); idx > strings.LastIndex(body, "event: done") {
		t.Error("done event must come after the error event")
	}
}

func TestChatBlockingReturnsReply(t *testing.T) {
	app, _ := newTestApp(t, &llm.ChatResponse{
		Content:  "FY2025 revenue was $5.2M.",
		Provider: "scripted",
	})
	router := newTestRouter(app)

	rec := postJSON(t, router, "/v1/chat", chatBody("What was the revenue?"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != "FY2025 revenue was $5.2M." {
		t.Errorf("reply = %q", resp.Reply)
	}
	if resp.Retrieval == nil {
		t.Error("retrieval meta missing")
	}
	if len(resp.Sources) == 0 {
		t.Error("no sources in response")
	}
	if resp.ThreadID == "" {
		t.Error("thread id missing")
	}
}

func TestChatBlockingRejectsBadBody(t *testing.T) {
	app, _ := newTestApp(t)
	router := newTestRouter(app)

	rec := postJSON(t, router, "/v1/chat", map[string]any{"deal_id": "deal-1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatStreamGreetingSkipsRetrieval(t *testing.T) {
	app, _ := newTestApp(t, &llm.ChatResponse{Content: "Hello! How can I help with Project Atlas?"})
	router := newTestRouter(app)

	rec := postJSON(t, router, "/v1/chat/stream", chatBody("Hi there!"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "event: source_added") {
		t.Errorf("greeting turn should not emit sources:\n%s", rec.Body.String())
	}
}

func TestChatStreamRejectsInvalidRequests(t *testing.T) {
	app, _ := newTestApp(t)
	router := newTestRouter(app)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing deal id", map[string]any{
			"user_id": "user-1", "conversation_id": "conv-1", "message": "hi",
		}},
		{"missing message", map[string]any{
			"deal_id": "deal-1", "user_id": "user-1", "conversation_id": "conv-1",
		}},
		{"unknown mode", map[string]any{
			"deal_id": "deal-1", "user_id": "user-1", "conversation_id": "conv-1",
			"mode": "bogus", "message": "hi",
		}},
		{"cim with user id", map[string]any{
			"deal_id": "deal-1", "user_id": "user-1", "conversation_id": "conv-1",
			"mode": "cim", "message": "hi",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, router, "/v1/chat/stream", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestChatDealWithoutDocuments(t *testing.T) {
	mem := store.NewMemory()
	mem.AddDeal(datatypes.DealContext{DealID: "deal-empty", DealName: "Project Vacant", Status: "active"})
	app := NewApp(&AppConfig{
		Store:    mem,
		Services: mem.Services(),
		Client: &scriptedClient{responses: []*llm.ChatResponse{
			{Content: "No revenue figures are in the data room yet."},
			{Content: "Still nothing on revenue."},
		}},
	})
	router := newTestRouter(app)

	body := map[string]any{
		"deal_id":         "deal-empty",
		"user_id":         "user-1",
		"conversation_id": "conv-1",
		"message":         "What was the revenue?",
	}
	rec := postJSON(t, router, "/v1/chat", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources = %d, want none for an empty deal", len(resp.Sources))
	}
	if len(resp.NextSteps) == 0 {
		t.Fatal("no next steps on a deal without documents")
	}
	upload := false
	for _, s := range resp.NextSteps {
		if strings.Contains(strings.ToLower(s), "search") {
			t.Errorf("next step suggests searching with no documents: %q", s)
		}
		if strings.Contains(strings.ToLower(s), "upload") {
			upload = true
		}
	}
	if !upload {
		t.Errorf("next steps missing upload suggestion: %v", resp.NextSteps)
	}

	thread, err := datatypes.NewThreadID(datatypes.ModeChat, "deal-empty", "user-1", "conv-1")
	if err != nil {
		t.Fatalf("NewThreadID: %v", err)
	}
	st, found, err := app.Checkpointer.Load(context.Background(), thread.String())
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if lvl := st.Scratchpad[supervisor.ScratchUncertainty]; lvl != string(uncertainty.LevelComplete) {
		t.Errorf("uncertainty = %v, want %s", lvl, uncertainty.LevelComplete)
	}

	// The streaming endpoint carries the same suggestions on its done
	// event.
	body["conversation_id"] = "conv-2"
	rec = postJSON(t, router, "/v1/chat/stream", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status = %d", rec.Code)
	}
	streamBody := rec.Body.String()
	if !strings.Contains(streamBody, `"next_steps"`) || !strings.Contains(streamBody, "Upload") {
		t.Errorf("done event missing next steps:\n%s", streamBody)
	}
}

func TestToolResultFetchByReference(t *testing.T) {
	app, _ := newTestApp(t)
	router := newTestRouter(app)
	ctx := context.Background()

	args := []byte(`{"query":"revenue"}`)
	full := `[{"snippet":"FY2025 revenue was $5.2M"}]`
	app.ToolCache.Put(ctx, "deal-1", "search_documents", args, full, "1 passage")
	ref := app.ToolCache.Key(ctx, "deal-1", "search_documents", args)

	req := httptest.NewRequest(http.MethodGet, "/v1/tool-results/"+ref, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "$5.2M") {
		t.Errorf("full rendition missing from response: %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/tool-results/tool/deal-1/g0/search_documents/unknown", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown ref status = %d, want 404", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/tool-results/toolgen/deal-1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("foreign key status = %d, want 400", rec.Code)
	}
}

func TestThreadStateAfterTurn(t *testing.T) {
	app, _ := newTestApp(t, &llm.ChatResponse{Content: "FY2025 revenue was $5.2M."})
	router := newTestRouter(app)

	rec := postJSON(t, router, "/v1/chat/stream", chatBody("What was the revenue?"))
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}

	thread, err := datatypes.NewThreadID(datatypes.ModeChat, "deal-1", "user-1", "conv-1")
	if err != nil {
		t.Fatalf("NewThreadID: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/threads/"+thread.String(), nil)
	stateRec := httptest.NewRecorder()
	router.ServeHTTP(stateRec, req)

	if stateRec.Code != http.StatusOK {
		t.Fatalf("state status = %d, body = %s", stateRec.Code, stateRec.Body.String())
	}
	var st datatypes.State
	if err := json.Unmarshal(stateRec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(st.Messages) != 2 {
		t.Errorf("messages = %d, want user + assistant", len(st.Messages))
	}
	if st.DealContext == nil || st.DealContext.DealName != "Project Atlas" {
		t.Errorf("deal context not loaded: %+v", st.DealContext)
	}
}

func TestThreadStateErrors(t *testing.T) {
	app, _ := newTestApp(t)
	router := newTestRouter(app)

	req := httptest.NewRequest(http.MethodGet, "/v1/threads/not-a-thread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", rec.Code)
	}

	thread, _ := datatypes.NewThreadID(datatypes.ModeChat, "deal-9", "user-9", "conv-9")
	req = httptest.NewRequest(http.MethodGet, "/v1/threads/"+thread.String(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown thread status = %d, want 404", rec.Code)
	}
}

// runToApproval drives one turn that ends in a pending knowledge
// update and returns the pending request.
func runToApproval(t *testing.T, app *App, router *gin.Engine) *datatypes.ApprovalRequest {
	t.Helper()
	rec := postJSON(t, router, "/v1/chat/stream", chatBody("Correct the revenue to $5.8M"))
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "event: approval_required") {
		t.Fatalf("no approval event in stream:\n%s", rec.Body.String())
	}

	thread, _ := datatypes.NewThreadID(datatypes.ModeChat, "deal-1", "user-1", "conv-1")
	st, found, err := app.Checkpointer.Load(context.Background(), thread.String())
	if err != nil || !found {
		t.Fatalf("checkpoint load: found=%v err=%v", found, err)
	}
	if st.PendingApproval == nil {
		t.Fatal("no pending approval on state")
	}
	return st.PendingApproval
}

func approvalClient() *scriptedClient {
	return &scriptedClient{responses: []*llm.ChatResponse{
		{
			Content: "I will record that correction.",
			ToolCalls: []llm.ToolCall{{
				ID:        "c1",
				Name:      "update_knowledge",
				Arguments: `{"topic":"revenue","statement":"FY2025 revenue was $5.8M","previous":"$5.2M"}`,
			}},
		},
	}}
}

func TestApprovalDecisionApplies(t *testing.T) {
	mem := store.NewMemory()
	mem.AddDeal(datatypes.DealContext{DealID: "deal-1", DealName: "Project Atlas"})
	app := NewApp(&AppConfig{
		Store:    mem,
		Services: mem.Services(),
		Client:   approvalClient(),
	})
	router := newTestRouter(app)

	pending := runToApproval(t, app, router)

	rec := postJSON(t, router, "/v1/approvals/decision", map[string]any{
		"deal_id":         "deal-1",
		"user_id":         "user-1",
		"conversation_id": "conv-1",
		"approval_id":     pending.ID,
		"decision":        "approve",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decision status = %d, body = %s", rec.Code, rec.Body.String())
	}

	facts, err := mem.Services().Knowledge.Query(context.Background(), "deal-1", "revenue")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	found := false
	for _, f := range facts {
		if strings.Contains(f.Statement, "$5.8M") {
			found = true
		}
	}
	if !found {
		t.Errorf("approved correction not written: %+v", facts)
	}

	thread, _ := datatypes.NewThreadID(datatypes.ModeChat, "deal-1", "user-1", "conv-1")
	st, _, _ := app.Checkpointer.Load(context.Background(), thread.String())
	if st.PendingApproval != nil {
		t.Error("approval slot not cleared after decision")
	}
}

func TestApprovalDecisionReject(t *testing.T) {
	mem := store.NewMemory()
	mem.AddDeal(datatypes.DealContext{DealID: "deal-1", DealName: "Project Atlas"})
	app := NewApp(&AppConfig{
		Store:    mem,
		Services: mem.Services(),
		Client:   approvalClient(),
	})
	router := newTestRouter(app)

	pending := runToApproval(t, app, router)

	rec := postJSON(t, router, "/v1/approvals/decision", map[string]any{
		"deal_id":         "deal-1",
		"user_id":         "user-1",
		"conversation_id": "conv-1",
		"approval_id":     pending.ID,
		"decision":        "reject",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decision status = %d", rec.Code)
	}

	facts, _ := mem.Services().Knowledge.Query(context.Background(), "deal-1", "revenue")
	for _, f := range facts {
		if strings.Contains(f.Statement, "$5.8M") {
			t.Error("rejected correction was written anyway")
		}
	}

	thread, _ := datatypes.NewThreadID(datatypes.ModeChat, "deal-1", "user-1", "conv-1")
	st, _, _ := app.Checkpointer.Load(context.Background(), thread.String())
	if st.PendingApproval != nil {
		t.Error("approval slot not cleared after rejection")
	}
	last := st.Messages[len(st.Messages)-1]
	if !strings.Contains(last.Content, "declined") {
		t.Errorf("transcript missing rejection note: %q", last.Content)
	}
}

func TestApprovalDecisionConflicts(t *testing.T) {
	app, _ := newTestApp(t)
	router := newTestRouter(app)

	// No pending approval on a fresh thread.
	rec := postJSON(t, router, "/v1/approvals/decision", map[string]any{
		"deal_id":         "deal-1",
		"user_id":         "user-1",
		"conversation_id": "conv-1",
		"approval_id":     "appr-1",
		"decision":        "approve",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestApprovalDecisionStaleID(t *testing.T) {
	mem := store.NewMemory()
	mem.AddDeal(datatypes.DealContext{DealID: "deal-1", DealName: "Project Atlas"})
	app := NewApp(&AppConfig{
		Store:    mem,
		Services: mem.Services(),
		Client:   approvalClient(),
	})
	router := newTestRouter(app)

	runToApproval(t, app, router)

	rec := postJSON(t, router, "/v1/approvals/decision", map[string]any{
		"deal_id":         "deal-1",
		"user_id":         "user-1",
		"conversation_id": "conv-1",
		"approval_id":     "stale-id",
		"decision":        "approve",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestPlanApprovalSeedsMemorandumState(t *testing.T) {
	mem := store.NewMemory()
	mem.AddDeal(datatypes.DealContext{DealID: "deal-1", DealName: "Project Atlas"})
	app := NewApp(&AppConfig{
		Store:    mem,
		Services: mem.Services(),
		Client:   &scriptedClient{},
	})
	router := newTestRouter(app)

	// First cim turn proposes the drafting plan without generating.
	rec := postJSON(t, router, "/v1/chat/stream", map[string]any{
		"deal_id":         "deal-1",
		"conversation_id": "conv-1",
		"mode":            "cim",
		"message":         "Build the memorandum",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "event: approval_required") {
		t.Fatalf("no plan approval in stream:\n%s", rec.Body.String())
	}

	thread, _ := datatypes.NewThreadID(datatypes.ModeCIM, "deal-1", "", "conv-1")
	st, _, _ := app.Checkpointer.Load(context.Background(), thread.String())
	if st.PendingApproval == nil || st.PendingApproval.Kind != datatypes.ApprovalPlan {
		t.Fatalf("pending = %+v, want plan approval", st.PendingApproval)
	}

	rec = postJSON(t, router, "/v1/approvals/decision", map[string]any{
		"deal_id":         "deal-1",
		"conversation_id": "conv-1",
		"mode":            "cim",
		"approval_id":     st.PendingApproval.ID,
		"decision":        "approve",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decision status = %d, body = %s", rec.Code, rec.Body.String())
	}

	st, _, _ = app.Checkpointer.Load(context.Background(), thread.String())
	if st.CIMState == nil {
		t.Fatal("plan approval did not seed memorandum state")
	}
	if len(st.CIMState.Dependencies) == 0 {
		t.Error("seeded memorandum state has no phase dependencies")
	}
}

func TestReloadRecompilesGraph(t *testing.T) {
	app, _ := newTestApp(t, &llm.ChatResponse{Content: "ok"})

	first, err := app.Graph()
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	tuning := app.Tuning.Current()
	tuning.RetrievalBudgetTokens = 500
	app.Tuning.Replace(tuning)
	app.Reload(tuning)

	second, err := app.Graph()
	if err != nil {
		t.Fatalf("Graph after reload: %v", err)
	}
	if first == second {
		t.Error("reload did not recompile the graph")
	}
}

func TestSSEWriterHashChain(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatalf("NewSSEWriter: %v", err)
	}

	if err := w.WriteEvent(stream.Event{Type: stream.EventToken, Token: "a"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := w.WriteEvent(stream.Event{Type: stream.EventToken, Token: "b"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := w.WriteKeepAlive(); err != nil {
		t.Fatalf("WriteKeepAlive: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, ": ping") {
		t.Errorf("missing keepalive comment:\n%s", body)
	}

	var events []WireEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev WireEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].PrevHash != "" {
		t.Errorf("first event prev_hash = %q, want empty", events[0].PrevHash)
	}
	if events[1].PrevHash != events[0].Hash {
		t.Errorf("chain broken: prev_hash %q, want %q", events[1].PrevHash, events[0].Hash)
	}
	if events[0].CreatedAt <= 0 || events[0].CreatedAt > time.Now().UnixMilli() {
		t.Errorf("created_at out of range: %d", events[0].CreatedAt)
	}
}
