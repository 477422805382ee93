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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scriptable LLMClient for failover tests.
type fakeClient struct {
	name    string
	err     error
	content string
	calls   int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

func (f *fakeClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Content: f.content, Provider: f.name}, nil
}

func (f *fakeClient) ChatStream(ctx context.Context, req *ChatRequest, onToken TokenHandler) (*ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if onToken != nil {
		if err := onToken(f.content); err != nil {
			return nil, err
		}
	}
	return &ChatResponse{Content: f.content, Provider: f.name}, nil
}

func TestFailover_PrimarySucceeds(t *testing.T) {
	primary := &fakeClient{name: "primary", content: "answer"}
	secondary := &fakeClient{name: "secondary", content: "other"}
	fo, err := NewFailover(FailoverConfig{Providers: []LLMClient{primary, secondary}})
	require.NoError(t, err)

	resp, err := fo.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
	assert.Equal(t, "primary", resp.Provider)
	assert.Equal(t, 0, secondary.calls, "secondary should never be tried")
	assert.Equal(t, int64(0), fo.Stats().Fallbacks)
}

func TestFailover_FallsBackOnError(t *testing.T) {
	primary := &fakeClient{name: "primary", err: errors.New("rate limited")}
	secondary := &fakeClient{name: "secondary", content: "fallback answer"}
	fo, err := NewFailover(FailoverConfig{Providers: []LLMClient{primary, secondary}})
	require.NoError(t, err)

	resp, err := fo.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", resp.Content)
	assert.Equal(t, "secondary", resp.Provider)

	stats := fo.Stats()
	assert.Equal(t, int64(1), stats.Fallbacks)
	assert.Equal(t, []int64{0, 1}, stats.ByProvider)
}

func TestFailover_AllProvidersFail(t *testing.T) {
	a := &fakeClient{name: "a", err: errors.New("down")}
	b := &fakeClient{name: "b", err: errors.New("also down")}
	fo, err := NewFailover(FailoverConfig{Providers: []LLMClient{a, b}})
	require.NoError(t, err)

	_, err = fo.Chat(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 LLM providers failed")
	assert.Equal(t, int64(1), fo.Stats().Exhausted)
}

func TestFailover_ContextCancelStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeClient{name: "a", content: "x"}
	b := &fakeClient{name: "b", content: "y"}
	fo, err := NewFailover(FailoverConfig{Providers: []LLMClient{a, b}})
	require.NoError(t, err)

	_, err = fo.Chat(ctx, &ChatRequest{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.calls)
	assert.Equal(t, 0, b.calls)
}

func TestFailover_NoMidStreamRetry(t *testing.T) {
	// A provider that emits a token, then fails. The failover must not
	// restart the answer on the next provider.
	streamThenFail := &streamFailClient{}
	backup := &fakeClient{name: "backup", content: "should not appear"}
	fo, err := NewFailover(FailoverConfig{Providers: []LLMClient{streamThenFail, backup}})
	require.NoError(t, err)

	var tokens []string
	_, err = fo.ChatStream(context.Background(), &ChatRequest{}, func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, []string{"partial "}, tokens)
	assert.Equal(t, 0, backup.calls, "must not fall back after tokens were delivered")
}

func TestFailover_RequiresProviders(t *testing.T) {
	_, err := NewFailover(FailoverConfig{})
	assert.Error(t, err)
}

type streamFailClient struct{}

func (s *streamFailClient) Name() string { return "flaky" }

func (s *streamFailClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return "", errors.New("unsupported")
}

func (s *streamFailClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return nil, errors.New("unsupported")
}

func (s *streamFailClient) ChatStream(ctx context.Context, req *ChatRequest, onToken TokenHandler) (*ChatResponse, error) {
	if onToken != nil {
		if err := onToken("partial "); err != nil {
			return nil, err
		}
	}
	return nil, errors.New("connection reset")
}
