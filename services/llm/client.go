// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides a provider-agnostic client interface for chat
// completion backends (OpenAI, Anthropic, Ollama) plus an ordered
// failover wrapper. The orchestration core talks only to LLMClient;
// which provider actually answers is an operational detail.
package llm

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is a single role-tagged message in a conversation.
type ChatMessage struct {
	// ID is a stable message identifier. Messages with the same ID
	// replace each other on merge, which is how streaming token
	// updates avoid duplicating history.
	ID string `json:"id,omitempty"`

	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls holds tool invocations issued by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result message back to the call that
	// produced it. Required when Role is RoleTool.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload as emitted by the
	// model. Validation happens at the tool registry, not here.
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a callable tool exposed to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// GenerationParams are optional sampling controls. Nil fields use
// provider defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ChatRequest is a full conversation turn sent to a provider.
type ChatRequest struct {
	Messages []ChatMessage
	Tools    []ToolDefinition
	Params   GenerationParams
}

// ChatResponse is the provider's answer: either content, tool calls,
// or both (some providers emit preamble text before tool calls).
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall

	// Provider and Model record which backend actually answered.
	// Callers use this for audit logging only, never for branching.
	Provider string
	Model    string
}

// TokenHandler receives incremental content during streaming. Returning
// an error cancels the stream; the error propagates to the caller.
type TokenHandler func(token string) error

// LLMClient defines the standard interface for any chat backend.
//
// Implementations must be safe for concurrent use and must respect
// context cancellation on every network call.
type LLMClient interface {
	// Name returns the provider identifier ("openai", "anthropic",
	// "ollama") used in logs and failover reporting.
	Name() string

	// Generate produces a single completion for a bare prompt.
	// Convenience path for internal callers (summarization) that do
	// not need tool calling.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat runs a full conversation turn, optionally with tools bound.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream runs a conversation turn, invoking onToken for each
	// content chunk exactly as the provider emits it. The final
	// response (including any tool calls) is returned after the
	// stream completes. Providers without native streaming fall back
	// to Chat and emit the whole content as one token.
	ChatStream(ctx context.Context, req *ChatRequest, onToken TokenHandler) (*ChatResponse, error)
}
