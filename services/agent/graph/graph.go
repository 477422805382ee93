// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph is the resumable execution state machine for agent
// turns. A turn always enters at the retrieval node, then routes by
// workflow mode to the supervisor or the CIM phase router. State is
// checkpointed after every node so a crashed or interrupted turn
// resumes from the last completed node, and the compiled graph is a
// process-wide singleton built safely under concurrent first use.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/stream"
	"github.com/dealdesk/dealdesk/services/llm"
)

var tracer = otel.Tracer("dealdesk/agent/graph")

// End is the terminal routing target.
const End = "__end__"

// Well-known node names.
const (
	NodeRetrieval  = "retrieval"
	NodeSupervisor = "supervisor"
	NodeCIM        = "cim"
)

// Turn carries the per-invocation inputs a node may need beyond the
// state itself.
type Turn struct {
	// Thread identifies the conversation.
	Thread datatypes.ThreadID

	// UserMessage is the incoming message for this turn.
	UserMessage llm.ChatMessage

	// Stream receives events during execution. Nil for callers that
	// only want the final state.
	Stream *stream.Stream
}

// Emit sends an event if a stream is attached. A false return means
// the consumer walked away and the node should stop early.
func (t *Turn) Emit(e stream.Event) bool {
	if t.Stream == nil {
		return true
	}
	return t.Stream.Emit(e)
}

// NodeFunc executes one node, returning a state delta. Nodes handle
// their own degradation; a returned error terminates the turn.
type NodeFunc func(ctx context.Context, turn *Turn, st *datatypes.State) (*datatypes.Delta, error)

// RouterFunc picks the next node after its owner completes. Routers
// must be pure functions of the state.
type RouterFunc func(st *datatypes.State) string

// StateGraph is the mutable graph definition. Compile freezes it.
type StateGraph struct {
	entry   string
	nodes   map[string]NodeFunc
	routers map[string]RouterFunc
}

// NewStateGraph creates a definition with the given entry node.
func NewStateGraph(entry string) *StateGraph {
	return &StateGraph{
		entry:   entry,
		nodes:   make(map[string]NodeFunc),
		routers: make(map[string]RouterFunc),
	}
}

// AddNode registers a node. Re-registering a name replaces it.
func (g *StateGraph) AddNode(name string, fn NodeFunc) *StateGraph {
	g.nodes[name] = fn
	return g
}

// AddRouter registers the router that runs after the named node. A
// node without a router routes to End.
func (g *StateGraph) AddRouter(after string, fn RouterFunc) *StateGraph {
	g.routers[after] = fn
	return g
}

// Compile validates the definition and freezes it for execution.
func (g *StateGraph) Compile(config *CompileConfig) (*Compiled, error) {
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("entry node %q is not registered", g.entry)
	}
	for after := range g.routers {
		if _, ok := g.nodes[after]; !ok {
			return nil, fmt.Errorf("router registered for unknown node %q", after)
		}
	}
	if config == nil || config.Checkpointer == nil {
		return nil, fmt.Errorf("a checkpointer is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Compiled{
		entry:        g.entry,
		nodes:        g.nodes,
		routers:      g.routers,
		checkpointer: config.Checkpointer,
		logger:       logger,
	}, nil
}

// CompileConfig supplies the execution dependencies.
type CompileConfig struct {
	// Checkpointer persists state between nodes and turns. Required.
	Checkpointer Checkpointer

	// Logger. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Compiled is an immutable, reusable execution graph.
//
// Thread Safety: Safe for concurrent use; per-turn state never
// escapes the invocation.
type Compiled struct {
	entry        string
	nodes        map[string]NodeFunc
	routers      map[string]RouterFunc
	checkpointer Checkpointer
	logger       *slog.Logger
}

// Invoke runs one turn to completion and returns the final state.
//
// The thread's checkpoint, if any, seeds the state; otherwise a fresh
// state is created for the thread's mode. The state is checkpointed
// after the user message merge and after every completed node, so an
// interrupted turn resumes rather than restarts.
func (c *Compiled) Invoke(ctx context.Context, turn *Turn) (*datatypes.State, error) {
	ctx, span := tracer.Start(ctx, "graph.Invoke")
	defer span.End()
	threadKey := turn.Thread.String()
	span.SetAttributes(attribute.String("thread.mode", string(turn.Thread.Mode)))

	st, found, err := c.checkpointer.Load(ctx, threadKey)
	if err != nil {
		return nil, datatypes.WrapAgentError(datatypes.ErrCodeCheckpoint,
			"failed to load thread checkpoint", false, err)
	}
	if !found {
		st = datatypes.NewState(turn.Thread.Mode)
	}

	if turn.UserMessage.Content != "" || len(turn.UserMessage.ToolCalls) > 0 {
		if err := st.Apply(&datatypes.Delta{
			Messages: []llm.ChatMessage{turn.UserMessage},
		}); err != nil {
			return st, err
		}
		if err := c.save(ctx, threadKey, st); err != nil {
			return st, err
		}
	}

	node := c.entry
	for node != End {
		fn, ok := c.nodes[node]
		if !ok {
			return st, datatypes.NewAgentError(datatypes.ErrCodeInternal,
				fmt.Sprintf("routed to unknown node %q", node), false)
		}

		delta, nodeErr := c.runNode(ctx, node, fn, turn, st)
		if nodeErr != nil {
			ae := datatypes.AsAgentError(nodeErr).WithNode(node)
			_ = st.Apply(&datatypes.Delta{Errors: []datatypes.AgentError{*ae}})
			_ = c.save(ctx, threadKey, st)
			turn.Emit(stream.Event{Type: stream.EventError, Err: ae})
			return st, ae
		}
		if err := st.Apply(delta); err != nil {
			ae := datatypes.AsAgentError(err).WithNode(node)
			_ = st.Apply(&datatypes.Delta{Errors: []datatypes.AgentError{*ae}})
			_ = c.save(ctx, threadKey, st)
			return st, ae
		}
		if err := c.save(ctx, threadKey, st); err != nil {
			return st, err
		}

		node = c.route(node, st)
	}
	return st, nil
}

func (c *Compiled) runNode(ctx context.Context, name string, fn NodeFunc, turn *Turn, st *datatypes.State) (*datatypes.Delta, error) {
	ctx, span := tracer.Start(ctx, "graph.node."+name)
	defer span.End()

	c.logger.Debug("executing graph node",
		slog.String("node", name),
		slog.String("mode", string(st.WorkflowMode)),
	)
	return fn(ctx, turn, st)
}

func (c *Compiled) route(after string, st *datatypes.State) string {
	router, ok := c.routers[after]
	if !ok {
		return End
	}
	return router(st)
}

func (c *Compiled) save(ctx context.Context, threadKey string, st *datatypes.State) error {
	if err := c.checkpointer.Save(ctx, threadKey, st); err != nil {
		return datatypes.WrapAgentError(datatypes.ErrCodeCheckpoint,
			"failed to persist thread checkpoint", false, err)
	}
	return nil
}

// RouteByMode is the standard post-retrieval router: a pure function
// of the workflow mode and nothing else.
func RouteByMode(st *datatypes.State) string {
	switch st.WorkflowMode {
	case datatypes.ModeCIM:
		return NodeCIM
	default:
		return NodeSupervisor
	}
}
