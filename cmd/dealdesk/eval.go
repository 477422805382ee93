// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/eval"
	"github.com/dealdesk/dealdesk/services/agent/handlers"
	"github.com/dealdesk/dealdesk/services/agent/store"
)

var evalSeed string

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Replay the evaluation scenarios and report regressions",
	Run:   runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalSeed, "seed", "", "seed file with the evaluation deal (default: built-in sample deal)")
}

func runEval(_ *cobra.Command, _ []string) {
	ctx := context.Background()

	mem := store.NewMemory()
	dealID := "eval-deal"
	if evalSeed != "" {
		deals, err := store.LoadSeed(evalSeed)
		if err != nil {
			log.Fatalf("FATAL: seed load failed: %v", err)
		}
		if len(deals) == 0 {
			log.Fatalf("FATAL: seed file contains no deals")
		}
		if err := mem.ApplySeed(ctx, deals); err != nil {
			log.Fatalf("FATAL: seed apply failed: %v", err)
		}
		dealID = deals[0].Context.DealID
	} else {
		seedSampleDeal(mem, dealID)
	}

	client, err := buildLLMClient()
	if err != nil {
		log.Fatalf("FATAL: LLM client init failed: %v", err)
	}

	app := handlers.NewApp(&handlers.AppConfig{
		Store:    mem,
		Services: mem.Services(),
		Client:   client,
	})

	summary := eval.New(app, dealID, nil).Run(ctx)

	fmt.Println("\nEvaluation results")
	fmt.Println("---------------------------------------------------")
	for _, res := range summary.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Printf("   %-30s %s", res.Name, status)
		if res.Detail != "" {
			fmt.Printf("  (%s)", res.Detail)
		}
		fmt.Println()
	}
	fmt.Printf("\n%d passed, %d failed\n", summary.Passed, summary.Failed)

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

// seedSampleDeal loads the built-in evaluation fixture: one deal with
// a small document set covering the topics the checks query.
func seedSampleDeal(mem *store.Memory, dealID string) {
	dc := mem.AddDeal(datatypes.DealContext{
		DealID:   dealID,
		DealName: "Project Atlas",
		Status:   "active",
	})
	if err := mem.AddDocument(dc.DealID, datatypes.DocumentRef{
		ID:   "doc-cim",
		Name: "CIM.pdf",
	}, []string{
		"FY2025 revenue was $5.2M, up 18% year over year.",
		"The company serves 40 enterprise customers with 95% gross retention.",
		"EBITDA margin improved to 22% in FY2025.",
	}); err != nil {
		log.Fatalf("FATAL: sample deal setup failed: %v", err)
	}
}
