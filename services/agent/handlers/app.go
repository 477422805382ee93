// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the agent over HTTP: a streaming chat
// endpoint, the approval decision endpoint, thread inspection, and
// health. Handlers are gin.HandlerFunc factories that close over the
// App wiring, matching the service composition used elsewhere in the
// codebase.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dealdesk/dealdesk/services/agent/cache"
	"github.com/dealdesk/dealdesk/services/agent/config"
	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/graph"
	"github.com/dealdesk/dealdesk/services/agent/intent"
	"github.com/dealdesk/dealdesk/services/agent/observability"
	"github.com/dealdesk/dealdesk/services/agent/retrieval"
	"github.com/dealdesk/dealdesk/services/agent/store"
	"github.com/dealdesk/dealdesk/services/agent/stream"
	"github.com/dealdesk/dealdesk/services/agent/summarize"
	"github.com/dealdesk/dealdesk/services/agent/supervisor"
	"github.com/dealdesk/dealdesk/services/agent/uncertainty"
	"github.com/dealdesk/dealdesk/services/llm"
)

var tracer = otel.Tracer("dealdesk/agent/handlers")

// App bundles the shared dependencies the handlers close over.
//
// Thread Safety: Safe for concurrent use after NewApp returns. The
// graph builder compiles lazily; Reload discards the compiled graph
// so the next turn picks up new tuning.
type App struct {
	Store        store.DealStore
	Services     supervisor.Services
	Client       llm.LLMClient
	Registry     *supervisor.Registry
	Cache        *cache.Cache
	ToolCache    *cache.ToolResultCache
	Backends     []retrieval.Backend
	Checkpointer graph.Checkpointer
	Classifier   *intent.Classifier
	Tuning       *config.Holder
	Metrics      *observability.Metrics
	Logger       *slog.Logger

	builder *graph.Builder
}

// AppConfig configures an App. Store, Services, and Client are
// required; everything else has a working default.
type AppConfig struct {
	// Store resolves deal metadata for thread initialization.
	Store store.DealStore

	// Services back the supervisor tool set and approval execution.
	Services supervisor.Services

	// Client is the (failover-wrapped) model client.
	Client llm.LLMClient

	// Backends are the retrieval sources, queried in order. When
	// empty, a document-search backend over Services.Documents is
	// installed so retrieval always has at least one source.
	Backends []retrieval.Backend

	// Cache backs topic retrieval, tool results, and summarization
	// idempotence. Nil gets an in-process cache.
	Cache *cache.Cache

	// Checkpointer persists thread state. Nil gets an in-memory one.
	Checkpointer graph.Checkpointer

	// Classifier maps utterances to intents. Nil gets the pattern
	// classifier.
	Classifier *intent.Classifier

	// Tuning is the hot-reloadable runtime configuration. Nil gets
	// defaults.
	Tuning *config.Holder

	// Metrics is optional; nil disables metric recording.
	Metrics *observability.Metrics

	// Logger. If nil, uses slog.Default().
	Logger *slog.Logger
}

// NewApp wires the agent components together.
func NewApp(cfg *AppConfig) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tuning := cfg.Tuning
	if tuning == nil {
		tuning = config.NewHolder(config.Default())
	}
	c := cfg.Cache
	if c == nil {
		c = cache.New(&cache.Config{
			Store:  cache.NewMemoryStore(nil),
			TTL:    tuning.Current().CacheTTL,
			Logger: logger,
		})
	}
	checkpointer := cfg.Checkpointer
	if checkpointer == nil {
		checkpointer = graph.NewMemoryCheckpointer()
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = intent.New(&intent.Config{Logger: logger})
	}
	backends := cfg.Backends
	if len(backends) == 0 && cfg.Services.Documents != nil {
		backends = []retrieval.Backend{store.NewDocumentBackend(cfg.Services.Documents)}
	}

	app := &App{
		Store:        cfg.Store,
		Services:     cfg.Services,
		Client:       cfg.Client,
		Registry:     supervisor.NewRegistry(cfg.Services),
		Cache:        c,
		ToolCache:    cache.NewToolResultCache(c),
		Backends:     backends,
		Checkpointer: checkpointer,
		Classifier:   classifier,
		Tuning:       tuning,
		Metrics:      cfg.Metrics,
		Logger:       logger,
	}
	app.builder = graph.NewBuilder(app.buildGraph)
	return app
}

// Graph returns the compiled execution graph, building it on first
// use.
func (a *App) Graph() (*graph.Compiled, error) {
	return a.builder.Get()
}

// Reload discards the compiled graph so the next turn rebuilds it
// from the current tuning snapshot. Wired as the config watcher
// callback.
func (a *App) Reload(t config.Tuning) {
	a.Logger.Info("runtime tuning changed, recompiling graph",
		slog.Int("retrieval_budget_tokens", t.RetrievalBudgetTokens),
		slog.Int("supervisor_max_iterations", t.SupervisorMaxIterations),
	)
	a.builder.Reset()
}

// buildGraph assembles the node pipeline from the current tuning
// snapshot. Retrieval always runs first; RouteByMode sends the turn
// to the supervisor or the memorandum builder.
func (a *App) buildGraph() (*graph.Compiled, error) {
	t := a.Tuning.Current()

	node := retrieval.NewNode(&retrieval.NodeConfig{
		Backends:          a.Backends,
		Cache:             a.Cache,
		BudgetTokens:      t.RetrievalBudgetTokens,
		PerBackendLimit:   t.RetrievalPerBackendLimit,
		PerBackendTimeout: t.RetrievalBackendTimeout,
		Logger:            a.Logger,
	})
	summarizer := summarize.New(&summarize.Config{
		Client: a.Client,
		Cache:  a.Cache,
		Policy: summarize.Policy{
			MaxMessages: t.SummarizeAfterMessages,
			MaxTokens:   t.SummarizeAfterTokens,
			KeepRecent:  t.SummarizeKeepRecent,
		},
		Logger: a.Logger,
	})
	sup := supervisor.New(&supervisor.Config{
		Client:        a.Client,
		Registry:      a.Registry,
		ToolCache:     a.ToolCache,
		MaxIterations: t.SupervisorMaxIterations,
		SummaryFloor:  t.ToolSummaryFloor,
		Logger:        a.Logger,
	})
	cim := supervisor.NewCIMRouter(a.Client, a.Logger)

	g := graph.NewStateGraph(graph.NodeRetrieval).
		AddNode(graph.NodeRetrieval, a.retrievalStage(node, summarizer)).
		AddNode(graph.NodeSupervisor, sup.Node()).
		AddNode(graph.NodeCIM, cim.Node()).
		AddRouter(graph.NodeRetrieval, graph.RouteByMode)

	return g.Compile(&graph.CompileConfig{
		Checkpointer: a.Checkpointer,
		Logger:       a.Logger,
	})
}

// retrievalStage is the entry node of every turn. It loads deal
// context on first contact, compresses history past the policy
// thresholds, classifies the utterance, and runs retrieval only for
// intents that need grounding. Greetings and meta turns skip the
// backends entirely.
func (a *App) retrievalStage(node *retrieval.Node, summarizer *summarize.Summarizer) graph.NodeFunc {
	return func(ctx context.Context, turn *graph.Turn, st *datatypes.State) (*datatypes.Delta, error) {
		ctx, span := tracer.Start(ctx, "handlers.retrievalStage")
		defer span.End()

		delta := &datatypes.Delta{Scratchpad: make(map[string]any)}

		if st.DealContext == nil {
			dc, err := a.Store.GetDealContext(ctx, turn.Thread.DealID)
			if err != nil {
				// Missing deal metadata degrades the prompt, not the
				// turn.
				ae := datatypes.WrapAgentError(datatypes.ErrCodeDealContext,
					"deal context unavailable", true, err)
				delta.Errors = append(delta.Errors, *ae)
				a.Logger.Warn("deal context load failed",
					slog.String("deal_id", turn.Thread.DealID),
					slog.String("error", err.Error()))
			} else {
				delta.DealContext = &dc
			}
		}

		if res := summarizer.Summarize(ctx, turn.Thread.String(), st.Messages); res != nil {
			summary := res.Summary
			tokens := res.TokensAfter
			delta.HistorySummary = &summary
			delta.TokenCount = &tokens
			delta.Scratchpad[supervisor.ScratchSummarizedThrough] = res.Dropped
		}

		it := a.Classifier.Classify(ctx, turn.UserMessage.Content)
		span.SetAttributes(attribute.String("intent", string(it)))
		if !intent.ShouldRetrieve(it) {
			delta.Scratchpad[supervisor.ScratchRetrievalContext] = ""
			delta.Scratchpad[supervisor.ScratchUncertainty] = string(uncertainty.LevelNone)
			return delta, nil
		}

		res := node.Retrieve(ctx, turn.Thread.DealID, turn.UserMessage.Content)
		for _, e := range res.Errors {
			delta.Errors = append(delta.Errors, *e)
		}
		delta.Sources = res.Sources
		delta.Retrieval = &datatypes.RetrievalMeta{
			CacheHit:   res.CacheHit,
			Topics:     res.Topics,
			DurationMs: res.Duration.Milliseconds(),
		}

		tun := a.Tuning.Current()
		assess := uncertainty.DetectWith(res.Sources, uncertainty.Thresholds{
			Strong:   tun.UncertaintyStrong,
			Moderate: tun.UncertaintyModerate,
			Weak:     tun.UncertaintyWeak,
		})
		delta.Scratchpad[supervisor.ScratchRetrievalContext] = res.Context
		delta.Scratchpad[supervisor.ScratchUncertainty] = string(assess.Level)

		a.recordRetrieval(ctx, res, assess)
		return delta, nil
	}
}

func (a *App) recordRetrieval(ctx context.Context, res *retrieval.Result, assess uncertainty.Assessment) {
	if a.Metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("cache_hit", res.CacheHit),
		attribute.String("uncertainty", string(assess.Level)),
	)
	a.Metrics.RetrievalsTotal.Add(ctx, 1, attrs)
	a.Metrics.RetrievalDuration.Record(ctx, res.Duration.Seconds(), attrs)
	a.Metrics.RetrievalSourcesTotal.Add(ctx, int64(len(res.Sources)), attrs)
}

func (a *App) recordTurn(ctx context.Context, mode datatypes.WorkflowMode, start time.Time, failed bool) {
	if a.Metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.Bool("failed", failed),
	)
	a.Metrics.TurnsTotal.Add(ctx, 1, attrs)
	a.Metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// doneEvent builds the turn completion payload from the final state.
func doneEvent(thread datatypes.ThreadID, st *datatypes.State) stream.Event {
	done := stream.Done{ThreadID: thread.String(), Status: "ok"}
	if st != nil {
		if st.Retrieval != nil {
			done.CacheHit = st.Retrieval.CacheHit
		}
		if p, ok := st.Scratchpad[supervisor.ScratchProvider].(string); ok {
			done.Provider = p
		}
		done.NextSteps = nextSteps(st)
	}
	return stream.Event{Type: stream.EventDone, Done: &done}
}

// failedEvent terminates an errored stream. The error event precedes
// it; the done event confirms the turn ended rather than the
// connection dropping.
func failedEvent(thread datatypes.ThreadID) stream.Event {
	return stream.Event{Type: stream.EventDone, Done: &stream.Done{
		ThreadID: thread.String(),
		Status:   "error",
	}}
}

// nextSteps derives user-facing suggestions from the turn's retrieval
// confidence. A deal with no documents only ever suggests uploading.
func nextSteps(st *datatypes.State) []string {
	lvl, ok := st.Scratchpad[supervisor.ScratchUncertainty].(string)
	if !ok {
		return nil
	}
	hasDocs := st.DealContext != nil && st.DealContext.DocumentCount > 0
	return uncertainty.GenerateNextSteps(uncertainty.Level(lvl), hasDocs)
}
