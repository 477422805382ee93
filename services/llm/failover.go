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
	"log/slog"
	"sync/atomic"
	"time"
)

// =============================================================================
// Failover Client
// =============================================================================

// Failover chains multiple LLM providers in priority order. A call is
// attempted against each provider in turn; the first success wins.
// Callers see a single LLMClient and never need to know which provider
// ultimately answered (the response carries Provider for audit only).
//
// Context cancellation and deadline expiry abort the chain immediately:
// a caller hanging up is not a provider failure.
//
// Thread Safety: safe for concurrent use.
type Failover struct {
	providers []LLMClient
	timeout   time.Duration
	logger    *slog.Logger

	fallbacks  atomic.Int64
	exhausted  atomic.Int64
	byProvider []atomic.Int64
}

// FailoverConfig configures the failover chain.
type FailoverConfig struct {
	// Providers in priority order. Must be non-empty.
	Providers []LLMClient

	// PerCallTimeout bounds each individual provider attempt.
	// Default: 90 seconds.
	PerCallTimeout time.Duration

	// Logger for fallback events. If nil, uses slog.Default().
	Logger *slog.Logger
}

// NewFailover creates a failover client over the given providers.
func NewFailover(cfg FailoverConfig) (*Failover, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	timeout := cfg.PerCallTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{
		providers:  cfg.Providers,
		timeout:    timeout,
		logger:     logger,
		byProvider: make([]atomic.Int64, len(cfg.Providers)),
	}, nil
}

// Name implements LLMClient.
func (f *Failover) Name() string { return "failover" }

// Generate implements LLMClient.
func (f *Failover) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	var out string
	err := f.attempt(ctx, "generate", func(ctx context.Context, client LLMClient) error {
		var callErr error
		out, callErr = client.Generate(ctx, prompt, params)
		return callErr
	})
	return out, err
}

// Chat implements LLMClient.
func (f *Failover) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var out *ChatResponse
	err := f.attempt(ctx, "chat", func(ctx context.Context, client LLMClient) error {
		var callErr error
		out, callErr = client.Chat(ctx, req)
		return callErr
	})
	return out, err
}

// ChatStream implements LLMClient.
//
// Fallback only happens before the first token reaches the caller: once
// a provider has started streaming, a mid-stream failure surfaces as an
// error rather than silently restarting the answer with another model.
func (f *Failover) ChatStream(ctx context.Context, req *ChatRequest, onToken TokenHandler) (*ChatResponse, error) {
	var out *ChatResponse
	err := f.attempt(ctx, "chat_stream", func(ctx context.Context, client LLMClient) error {
		started := false
		guarded := func(token string) error {
			started = true
			if onToken == nil {
				return nil
			}
			return onToken(token)
		}
		resp, callErr := client.ChatStream(ctx, req, guarded)
		if callErr != nil && started {
			return &midStreamError{err: callErr}
		}
		out = resp
		return callErr
	})
	return out, err
}

// Stats reports fallback behavior for observability.
type FailoverStats struct {
	// Fallbacks is the number of times a non-primary provider was tried.
	Fallbacks int64 `json:"fallbacks"`

	// Exhausted is the number of calls where every provider failed.
	Exhausted int64 `json:"exhausted"`

	// ByProvider counts successful answers per provider, in the
	// configured priority order.
	ByProvider []int64 `json:"by_provider"`
}

// Stats returns a snapshot of failover counters.
func (f *Failover) Stats() FailoverStats {
	counts := make([]int64, len(f.byProvider))
	for i := range f.byProvider {
		counts[i] = f.byProvider[i].Load()
	}
	return FailoverStats{
		Fallbacks:  f.fallbacks.Load(),
		Exhausted:  f.exhausted.Load(),
		ByProvider: counts,
	}
}

// attempt runs fn against each provider until one succeeds.
func (f *Failover) attempt(ctx context.Context, op string, fn func(context.Context, LLMClient) error) error {
	var lastErr error

	for i, client := range f.providers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			f.fallbacks.Add(1)
			f.logger.Warn("LLM provider fallback",
				slog.String("op", op),
				slog.String("provider", client.Name()),
				slog.Int("attempt", i+1),
				slog.String("last_error", lastErr.Error()),
			)
		}

		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err := fn(callCtx, client)
		cancel()

		if err == nil {
			f.byProvider[i].Add(1)
			return nil
		}
		lastErr = err

		// The caller hung up or the outer deadline expired; stop here
		// rather than burning the remaining providers.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A stream that already emitted tokens cannot be transparently
		// retried on another provider.
		var mse *midStreamError
		if errors.As(err, &mse) {
			return mse.err
		}
	}

	f.exhausted.Add(1)
	return fmt.Errorf("all %d LLM providers failed, last error: %w", len(f.providers), lastErr)
}

// midStreamError marks a failure that occurred after tokens were
// already delivered to the caller.
type midStreamError struct {
	err error
}

func (e *midStreamError) Error() string { return e.err.Error() }
func (e *midStreamError) Unwrap() error { return e.err }
