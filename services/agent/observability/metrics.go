// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined metrics for the agent service.
// All metrics use the "agent_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Turn Metrics ---

	// TurnsTotal counts completed turns by workflow mode and status.
	TurnsTotal metric.Int64Counter

	// TurnDuration records end-to-end turn duration in seconds.
	TurnDuration metric.Float64Histogram

	// TokensStreamedTotal counts streamed response tokens.
	TokensStreamedTotal metric.Int64Counter

	// --- Tool Metrics ---

	// ToolCallsTotal counts tool executions by tool name and status.
	ToolCallsTotal metric.Int64Counter

	// ToolCallDuration records tool execution duration in seconds.
	ToolCallDuration metric.Float64Histogram

	// ApprovalsTotal counts approval requests by kind and decision.
	ApprovalsTotal metric.Int64Counter

	// --- Retrieval Metrics ---

	// RetrievalsTotal counts retrieval passes by cache outcome.
	RetrievalsTotal metric.Int64Counter

	// RetrievalDuration records retrieval pass duration in seconds.
	RetrievalDuration metric.Float64Histogram

	// RetrievalSourcesTotal counts citations returned by retrieval.
	RetrievalSourcesTotal metric.Int64Counter

	// --- Cache Metrics ---

	// CacheRequestsTotal counts cache lookups by backend and outcome.
	CacheRequestsTotal metric.Int64Counter

	// --- Checkpoint Metrics ---

	// CheckpointOpsTotal counts checkpoint saves and loads by status.
	CheckpointOpsTotal metric.Int64Counter

	// --- Provider Metrics ---

	// ProviderFallbacksTotal counts turns served by a non-primary
	// model provider.
	ProviderFallbacksTotal metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts structured errors by code and node.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers all pre-defined metrics with the provided
// meter.
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TurnsTotal, err = meter.Int64Counter(
		"agent_turns_total",
		metric.WithDescription("Total completed agent turns"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create turns_total: %w", err)
	}

	m.TurnDuration, err = meter.Float64Histogram(
		"agent_turn_duration_seconds",
		metric.WithDescription("End-to-end turn duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create turn_duration: %w", err)
	}

	m.TokensStreamedTotal, err = meter.Int64Counter(
		"agent_tokens_streamed_total",
		metric.WithDescription("Total streamed response tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tokens_streamed_total: %w", err)
	}

	m.ToolCallsTotal, err = meter.Int64Counter(
		"agent_tool_calls_total",
		metric.WithDescription("Total tool executions"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool_calls_total: %w", err)
	}

	m.ToolCallDuration, err = meter.Float64Histogram(
		"agent_tool_call_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool_call_duration: %w", err)
	}

	m.ApprovalsTotal, err = meter.Int64Counter(
		"agent_approvals_total",
		metric.WithDescription("Total approval requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create approvals_total: %w", err)
	}

	m.RetrievalsTotal, err = meter.Int64Counter(
		"agent_retrievals_total",
		metric.WithDescription("Total retrieval passes"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrievals_total: %w", err)
	}

	m.RetrievalDuration, err = meter.Float64Histogram(
		"agent_retrieval_duration_seconds",
		metric.WithDescription("Retrieval pass duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval_duration: %w", err)
	}

	m.RetrievalSourcesTotal, err = meter.Int64Counter(
		"agent_retrieval_sources_total",
		metric.WithDescription("Total citations returned by retrieval"),
		metric.WithUnit("{citation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval_sources_total: %w", err)
	}

	m.CacheRequestsTotal, err = meter.Int64Counter(
		"agent_cache_requests_total",
		metric.WithDescription("Total cache lookups by backend and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_requests_total: %w", err)
	}

	m.CheckpointOpsTotal, err = meter.Int64Counter(
		"agent_checkpoint_ops_total",
		metric.WithDescription("Total checkpoint saves and loads"),
		metric.WithUnit("{op}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint_ops_total: %w", err)
	}

	m.ProviderFallbacksTotal, err = meter.Int64Counter(
		"agent_provider_fallbacks_total",
		metric.WithDescription("Turns served by a non-primary model provider"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create provider_fallbacks_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"agent_errors_total",
		metric.WithDescription("Total structured errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}
