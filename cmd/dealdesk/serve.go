// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"

	"github.com/dealdesk/dealdesk/services/agent/cache"
	"github.com/dealdesk/dealdesk/services/agent/config"
	"github.com/dealdesk/dealdesk/services/agent/graph"
	"github.com/dealdesk/dealdesk/services/agent/handlers"
	"github.com/dealdesk/dealdesk/services/agent/observability"
	"github.com/dealdesk/dealdesk/services/agent/retrieval"
	"github.com/dealdesk/dealdesk/services/agent/store"
)

var (
	servePort    string
	serveConfig  string
	serveSeed    string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent HTTP service",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (default $DEALDESK_PORT or 8080)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "tuning.json", "runtime tuning file, hot-reloaded on change")
	serveCmd.Flags().StringVar(&serveSeed, "seed", "", "seed file with deals, documents, and facts")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", os.Getenv("DEALDESK_DATA_DIR"), "directory for persistent cache and checkpoints (empty runs in-memory)")
}

func runServe(_ *cobra.Command, _ []string) {
	ctx := context.Background()

	shutdown, err := observability.Init(ctx, observability.DefaultConfig())
	if err != nil {
		log.Fatalf("FATAL: telemetry init failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	tuning, err := config.Load(serveConfig)
	if err != nil {
		log.Fatalf("FATAL: config load failed: %v", err)
	}
	holder := config.NewHolder(tuning)

	cacheStore, checkpointer := buildStorage(serveDataDir, tuning)
	c := cache.New(&cache.Config{
		Store:           cacheStore,
		TTL:             tuning.CacheTTL,
		FallbackEntries: tuning.CacheMaxEntries,
	})
	defer c.Close()

	client, err := buildLLMClient()
	if err != nil {
		log.Fatalf("FATAL: LLM client init failed: %v", err)
	}

	mem := store.NewMemory()
	if serveSeed != "" {
		deals, err := store.LoadSeed(serveSeed)
		if err != nil {
			log.Fatalf("FATAL: seed load failed: %v", err)
		}
		if err := mem.ApplySeed(ctx, deals); err != nil {
			log.Fatalf("FATAL: seed apply failed: %v", err)
		}
		slog.Info("Seed applied", "deals", len(deals))
	}

	metrics, err := observability.NewMetrics(otel.Meter("dealdesk/agent"))
	if err != nil {
		log.Fatalf("FATAL: metrics init failed: %v", err)
	}

	app := handlers.NewApp(&handlers.AppConfig{
		Store:        mem,
		Services:     mem.Services(),
		Client:       client,
		Backends:     buildBackends(mem),
		Cache:        c,
		Checkpointer: checkpointer,
		Tuning:       holder,
		Metrics:      metrics,
	})

	watcher, err := config.NewWatcher(serveConfig, holder, nil, app.Reload)
	if err != nil {
		slog.Warn("config watcher unavailable, tuning is fixed for this run", "error", err.Error())
	} else {
		go watcher.Start(ctx)
	}

	port := servePort
	if port == "" {
		port = os.Getenv("DEALDESK_PORT")
	}
	if port == "" {
		port = "8080"
	}

	router := gin.Default()
	handlers.SetupRoutes(router, app)

	slog.Info("Starting the agent server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// buildStorage returns the cache backend and checkpointer: Badger
// under dataDir when set, in-memory otherwise.
func buildStorage(dataDir string, tuning config.Tuning) (cache.Store, graph.Checkpointer) {
	if dataDir == "" {
		slog.Info("No data directory configured, running in-memory")
		return cache.NewMemoryStore(&cache.MemoryStoreConfig{
			MaxEntries: tuning.CacheMaxEntries,
		}), graph.NewMemoryCheckpointer()
	}

	cacheStore, err := cache.NewBadgerStore(cache.DefaultBadgerStoreConfig(filepath.Join(dataDir, "cache")))
	if err != nil {
		log.Fatalf("FATAL: cache store open failed: %v", err)
	}

	db, err := badger.Open(badger.DefaultOptions(filepath.Join(dataDir, "checkpoints")).
		WithLogger(nil))
	if err != nil {
		log.Fatalf("FATAL: checkpoint store open failed: %v", err)
	}
	return cacheStore, graph.NewBadgerCheckpointer(db)
}

// buildBackends assembles the retrieval sources: Weaviate and the
// knowledge graph when their URLs are configured, with document
// search over the deal store always present.
func buildBackends(mem *store.Memory) []retrieval.Backend {
	backends := []retrieval.Backend{
		store.NewDocumentBackend(mem.Services().Documents),
	}

	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL != "" && strings.Contains(weaviateURL, "http") {
		parsed, err := url.Parse(weaviateURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			slog.Warn("WEAVIATE_SERVICE_URL is invalid, skipping vector search",
				"url", weaviateURL)
		} else {
			client, err := weaviate.NewClient(weaviate.Config{
				Host:   parsed.Host,
				Scheme: parsed.Scheme,
			})
			if err != nil {
				slog.Error("Failed to create Weaviate client", "error", err)
			} else {
				backends = append(backends, retrieval.NewWeaviateBackend(client))
				slog.Info("Weaviate retrieval backend enabled", "host", parsed.Host)
			}
		}
	} else {
		slog.Info("WEAVIATE_SERVICE_URL not set, vector search disabled")
	}

	if kgURL := os.Getenv("KNOWLEDGE_GRAPH_URL"); kgURL != "" {
		backends = append(backends, retrieval.NewKnowledgeGraphBackend(kgURL))
		slog.Info("Knowledge graph retrieval backend enabled", "url", kgURL)
	}
	return backends
}
