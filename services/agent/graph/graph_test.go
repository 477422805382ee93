// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/llm"
)

func testThread(t *testing.T, mode datatypes.WorkflowMode, conv string) datatypes.ThreadID {
	t.Helper()
	user := "u1"
	if mode == datatypes.ModeCIM {
		user = ""
	}
	tid, err := datatypes.NewThreadID(mode, "deal-1", user, conv)
	if err != nil {
		t.Fatalf("thread id: %v", err)
	}
	return tid
}

// buildTestGraph wires trivially observable nodes: each appends its
// name to the scratchpad trace.
func buildTestGraph(t *testing.T, cp Checkpointer, visits *[]string, mu *sync.Mutex) *Compiled {
	t.Helper()
	record := func(name string) NodeFunc {
		return func(_ context.Context, _ *Turn, st *datatypes.State) (*datatypes.Delta, error) {
			mu.Lock()
			*visits = append(*visits, name)
			mu.Unlock()
			return &datatypes.Delta{Scratchpad: map[string]any{"last_node": name}}, nil
		}
	}

	g := NewStateGraph(NodeRetrieval).
		AddNode(NodeRetrieval, record(NodeRetrieval)).
		AddNode(NodeSupervisor, record(NodeSupervisor)).
		AddNode(NodeCIM, record(NodeCIM)).
		AddRouter(NodeRetrieval, RouteByMode)

	compiled, err := g.Compile(&CompileConfig{Checkpointer: cp})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return compiled
}

func TestInvokeEntersRetrievalFirstThenRoutesByMode(t *testing.T) {
	var mu sync.Mutex
	cases := []struct {
		mode datatypes.WorkflowMode
		want []string
	}{
		{datatypes.ModeChat, []string{NodeRetrieval, NodeSupervisor}},
		{datatypes.ModeIRL, []string{NodeRetrieval, NodeSupervisor}},
		{datatypes.ModeCIM, []string{NodeRetrieval, NodeCIM}},
	}
	for _, tc := range cases {
		var visits []string
		compiled := buildTestGraph(t, NewMemoryCheckpointer(), &visits, &mu)
		turn := &Turn{
			Thread:      testThread(t, tc.mode, "c1"),
			UserMessage: llm.ChatMessage{ID: "m1", Role: llm.RoleUser, Content: "hello"},
		}
		if _, err := compiled.Invoke(context.Background(), turn); err != nil {
			t.Fatalf("%s: invoke: %v", tc.mode, err)
		}
		if len(visits) != len(tc.want) {
			t.Fatalf("%s: visits = %v, want %v", tc.mode, visits, tc.want)
		}
		for i := range visits {
			if visits[i] != tc.want[i] {
				t.Errorf("%s: visits = %v, want %v", tc.mode, visits, tc.want)
			}
		}
	}
}

func TestRouteByModeIsPureOnMode(t *testing.T) {
	st := datatypes.NewState(datatypes.ModeChat)
	// Load the state with everything except the mode; none of it may
	// influence routing.
	st.ActiveSpecialist = "financial"
	st.Scratchpad["pending"] = true
	st.Errors = append(st.Errors, *datatypes.NewAgentError(datatypes.ErrCodeRetrieval, "x", true))

	if got := RouteByMode(st); got != NodeSupervisor {
		t.Errorf("chat routes to supervisor, got %s", got)
	}
	st.WorkflowMode = datatypes.ModeCIM
	if got := RouteByMode(st); got != NodeCIM {
		t.Errorf("cim routes to cim node, got %s", got)
	}
}

func TestInvokeResumesFromCheckpoint(t *testing.T) {
	var mu sync.Mutex
	var visits []string
	cp := NewMemoryCheckpointer()
	compiled := buildTestGraph(t, cp, &visits, &mu)
	tid := testThread(t, datatypes.ModeChat, "c1")

	st1, err := compiled.Invoke(context.Background(), &Turn{
		Thread:      tid,
		UserMessage: llm.ChatMessage{ID: "m1", Role: llm.RoleUser, Content: "first turn"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(st1.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(st1.Messages))
	}

	st2, err := compiled.Invoke(context.Background(), &Turn{
		Thread:      tid,
		UserMessage: llm.ChatMessage{ID: "m2", Role: llm.RoleUser, Content: "second turn"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(st2.Messages) != 2 {
		t.Errorf("second turn should continue history, got %d messages", len(st2.Messages))
	}
	if st2.Messages[0].Content != "first turn" {
		t.Errorf("history lost on resume: %q", st2.Messages[0].Content)
	}
}

func TestCheckpointIsolationAcrossThreads(t *testing.T) {
	var mu sync.Mutex
	var visits []string
	cp := NewMemoryCheckpointer()
	compiled := buildTestGraph(t, cp, &visits, &mu)

	_, err := compiled.Invoke(context.Background(), &Turn{
		Thread:      testThread(t, datatypes.ModeChat, "conv-a"),
		UserMessage: llm.ChatMessage{ID: "m1", Role: llm.RoleUser, Content: "thread A secret"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	stB, err := compiled.Invoke(context.Background(), &Turn{
		Thread:      testThread(t, datatypes.ModeChat, "conv-b"),
		UserMessage: llm.ChatMessage{ID: "m1", Role: llm.RoleUser, Content: "thread B"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(stB.Messages) != 1 || stB.Messages[0].Content != "thread B" {
		t.Errorf("thread B must not see thread A state: %+v", stB.Messages)
	}
}

func TestNodeErrorRecordedAndCheckpointed(t *testing.T) {
	cp := NewMemoryCheckpointer()
	g := NewStateGraph(NodeRetrieval).
		AddNode(NodeRetrieval, func(context.Context, *Turn, *datatypes.State) (*datatypes.Delta, error) {
			return nil, errors.New("backend exploded")
		})
	compiled, err := g.Compile(&CompileConfig{Checkpointer: cp})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	tid := testThread(t, datatypes.ModeChat, "c1")
	_, err = compiled.Invoke(context.Background(), &Turn{
		Thread:      tid,
		UserMessage: llm.ChatMessage{ID: "m1", Role: llm.RoleUser, Content: "hi"},
	})
	if err == nil {
		t.Fatal("expected node error to surface")
	}

	st, found, _ := cp.Load(context.Background(), tid.String())
	if !found {
		t.Fatal("failed turn should still checkpoint")
	}
	if len(st.Errors) != 1 || st.Errors[0].NodeID != NodeRetrieval {
		t.Errorf("error log should name the failing node: %+v", st.Errors)
	}
}

func TestCompileValidation(t *testing.T) {
	g := NewStateGraph("missing")
	if _, err := g.Compile(&CompileConfig{Checkpointer: NewMemoryCheckpointer()}); err == nil {
		t.Error("unregistered entry should fail compile")
	}

	g = NewStateGraph(NodeRetrieval).
		AddNode(NodeRetrieval, func(context.Context, *Turn, *datatypes.State) (*datatypes.Delta, error) {
			return nil, nil
		})
	if _, err := g.Compile(nil); err == nil {
		t.Error("missing checkpointer should fail compile")
	}
}

func TestBuilderCompilesOnceUnderConcurrency(t *testing.T) {
	var builds atomic.Int32
	b := NewBuilder(func() (*Compiled, error) {
		builds.Add(1)
		g := NewStateGraph(NodeRetrieval).
			AddNode(NodeRetrieval, func(context.Context, *Turn, *datatypes.State) (*datatypes.Delta, error) {
				return nil, nil
			})
		return g.Compile(&CompileConfig{Checkpointer: NewMemoryCheckpointer()})
	})

	const callers = 32
	results := make([]*Compiled, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			c, err := b.Get()
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			results[i] = c
		}(i)
	}
	close(start)
	wg.Wait()

	if got := builds.Load(); got != 1 {
		t.Errorf("expected exactly one compilation, got %d", got)
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatal("all callers must share one compiled instance")
		}
	}
}

func TestBuilderRetriesAfterFailureAndReset(t *testing.T) {
	var builds atomic.Int32
	fail := true
	b := NewBuilder(func() (*Compiled, error) {
		builds.Add(1)
		if fail {
			return nil, errors.New("transient")
		}
		g := NewStateGraph(NodeRetrieval).
			AddNode(NodeRetrieval, func(context.Context, *Turn, *datatypes.State) (*datatypes.Delta, error) {
				return nil, nil
			})
		return g.Compile(&CompileConfig{Checkpointer: NewMemoryCheckpointer()})
	})

	if _, err := b.Get(); err == nil {
		t.Fatal("expected first build to fail")
	}
	fail = false
	first, err := b.Get()
	if err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}

	b.Reset()
	second, err := b.Get()
	if err != nil {
		t.Fatalf("rebuild after reset: %v", err)
	}
	if first == second {
		t.Error("reset should force a new instance")
	}
	if builds.Load() != 3 {
		t.Errorf("expected 3 build attempts, got %d", builds.Load())
	}
}
