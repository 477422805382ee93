// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements LLMClient against the OpenAI chat API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from OPENAI_API_KEY / OPENAI_MODEL.
// The key may also be provided as a container secret at
// /run/secrets/openai_api_key.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Name implements LLMClient.
func (o *OpenAIClient) Name() string { return "openai" }

// Generate implements LLMClient.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	resp, err := o.Chat(ctx, &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: prompt}},
		Params:   params,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Chat implements LLMClient.
func (o *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	oaReq := o.buildRequest(req)

	resp, err := o.client.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:  choice.Message.Content,
		Provider: o.Name(),
		Model:    o.model,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// ChatStream implements LLMClient. Tokens are forwarded chunk-for-chunk
// as the API emits them; tool call deltas are accumulated by index and
// returned with the final response.
func (o *OpenAIClient) ChatStream(ctx context.Context, req *ChatRequest, onToken TokenHandler) (*ChatResponse, error) {
	oaReq := o.buildRequest(req)
	oaReq.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, oaReq)
	if err != nil {
		slog.Error("OpenAI stream creation failed", "error", err)
		return nil, fmt.Errorf("OpenAI stream creation failed: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	toolCalls := map[int]*ToolCall{}
	maxIndex := -1

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("OpenAI stream receive failed: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onToken != nil {
				if err := onToken(delta.Content); err != nil {
					return nil, err
				}
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if idx > maxIndex {
				maxIndex = idx
			}
			call, ok := toolCalls[idx]
			if !ok {
				call = &ToolCall{}
				toolCalls[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}
	}

	out := &ChatResponse{
		Content:  content.String(),
		Provider: o.Name(),
		Model:    o.model,
	}
	for i := 0; i <= maxIndex; i++ {
		if call, ok := toolCalls[i]; ok {
			out.ToolCalls = append(out.ToolCalls, *call)
		}
	}
	return out, nil
}

func (o *OpenAIClient) buildRequest(req *ChatRequest) openai.ChatCompletionRequest {
	oaReq := openai.ChatCompletionRequest{Model: o.model}

	for _, m := range req.Messages {
		oaMsg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			oaMsg.ToolCalls = append(oaMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		oaReq.Messages = append(oaReq.Messages, oaMsg)
	}

	for _, tool := range req.Tools {
		oaReq.Tools = append(oaReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	if req.Params.Temperature != nil {
		oaReq.Temperature = *req.Params.Temperature
	}
	if req.Params.MaxTokens != nil {
		oaReq.MaxCompletionTokens = *req.Params.MaxTokens
	}
	if req.Params.TopP != nil {
		oaReq.TopP = *req.Params.TopP
	}
	if len(req.Params.Stop) > 0 {
		oaReq.Stop = req.Params.Stop
	}
	return oaReq
}
