// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dealdesk/dealdesk/services/llm"
)

// buildLLMClient assembles the provider failover chain from
// DEALDESK_LLM_PROVIDERS, a comma-separated priority list. Providers
// whose credentials are missing are skipped with a warning; at least
// one must initialize.
func buildLLMClient() (llm.LLMClient, error) {
	spec := os.Getenv("DEALDESK_LLM_PROVIDERS")
	if spec == "" {
		spec = "anthropic,openai,ollama"
	}

	var providers []llm.LLMClient
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		var (
			client llm.LLMClient
			err    error
		)
		switch name {
		case "anthropic", "claude":
			client, err = llm.NewAnthropicClient()
		case "openai":
			client, err = llm.NewOpenAIClient()
		case "ollama", "local":
			client, err = llm.NewOllamaClient()
		case "":
			continue
		default:
			return nil, fmt.Errorf("unknown LLM provider %q", name)
		}
		if err != nil {
			slog.Warn("LLM provider unavailable, skipping",
				"provider", name,
				"error", err.Error())
			continue
		}
		providers = append(providers, client)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM provider could be initialized from %q", spec)
	}
	if len(providers) == 1 {
		slog.Info("Using single LLM provider", "provider", providers[0].Name())
		return providers[0], nil
	}

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	slog.Info("Using LLM failover chain", "providers", strings.Join(names, " -> "))
	return llm.NewFailover(llm.FailoverConfig{Providers: providers})
}
