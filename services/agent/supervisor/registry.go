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
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/llm"
)

// validate is shared across tool input checks. The validator instance
// caches struct metadata, so one per process is the right shape.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Output is what a tool execution produces. Summary is the compact
// form that re-enters the LLM context; Full is stored in the tool
// result cache and fetched out-of-band on demand.
type Output struct {
	Full    string
	Summary string

	// Approval, when non-nil, pauses the turn for a user decision
	// instead of returning a result to the model.
	Approval *datatypes.ApprovalRequest
}

// Handler executes a tool with already-validated input.
type Handler func(ctx context.Context, dealID string, input any) (Output, error)

// Tool is one registered tool: wire definition, typed input prototype,
// and handler.
type Tool struct {
	Name        string
	Description string

	// InputSchema is the JSON schema advertised to the model.
	InputSchema map[string]any

	// NewInput returns a pointer to a fresh typed input struct; the
	// raw arguments are unmarshalled into it and validated before the
	// handler runs.
	NewInput func() any

	// Mutates marks tools whose execution changes deal state. Their
	// results are never cached, and running one retires the deal's
	// cached read results.
	Mutates bool

	Handler Handler
}

// Registry is the fixed, enumerable tool set bound to one deal's
// services.
//
// Thread Safety: Safe for concurrent use after construction.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry builds the standard tool set over the given services.
func NewRegistry(svcs Services) *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	for _, t := range buildTools(svcs) {
		r.tools[t.Name] = t
	}
	return r
}

// Definitions renders the tool set for the LLM request, sorted by
// name so prompts are deterministic.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// Mutates reports whether the named tool changes deal state. Unknown
// tools report true so a miss never widens the cached set.
func (r *Registry) Mutates(name string) bool {
	t, ok := r.tools[name]
	if !ok {
		return true
	}
	return t.Mutates
}

// Execute runs one tool call: unknown tools and invalid input are
// rejected with a structured error before any handler code runs.
func (r *Registry) Execute(ctx context.Context, dealID string, call llm.ToolCall) (Output, error) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return Output{}, datatypes.NewAgentError(datatypes.ErrCodeToolInput,
			fmt.Sprintf("unknown tool %q", call.Name), true)
	}

	input := tool.NewInput()
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal([]byte(call.Arguments), input); err != nil {
			return Output{}, datatypes.WrapAgentError(datatypes.ErrCodeToolInput,
				fmt.Sprintf("tool %q arguments are not valid JSON", call.Name), true, err)
		}
	}
	if err := validate.Struct(input); err != nil {
		return Output{}, datatypes.WrapAgentError(datatypes.ErrCodeToolInput,
			fmt.Sprintf("tool %q input failed validation: %v", call.Name, err), true, err)
	}

	out, err := tool.Handler(ctx, dealID, input)
	if err != nil {
		return Output{}, datatypes.WrapAgentError(datatypes.ErrCodeToolExecution,
			fmt.Sprintf("tool %q failed", call.Name), true, err)
	}
	return out, nil
}

// schema is a helper for building the JSON schema literals below.
func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
