// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/graph"
	"github.com/dealdesk/dealdesk/services/agent/stream"
	"github.com/dealdesk/dealdesk/services/llm"
)

// =============================================================================
// CIM Phase Router
// =============================================================================

// CIM builder phases, in presentation order. The dependency graph
// below decides execution order; presentation order only names slides.
const (
	PhaseExecutiveSummary     = "executive_summary"
	PhaseCompanyOverview      = "company_overview"
	PhaseMarketAnalysis       = "market_analysis"
	PhaseFinancialOverview    = "financial_overview"
	PhaseInvestmentHighlights = "investment_highlights"
	PhaseRiskFactors          = "risk_factors"
)

// defaultPhaseDependencies maps each phase to the phases that must
// complete before it can run. The executive summary goes last because
// it synthesizes every other section.
func defaultPhaseDependencies() map[string][]string {
	return map[string][]string{
		PhaseCompanyOverview:      nil,
		PhaseMarketAnalysis:       {PhaseCompanyOverview},
		PhaseFinancialOverview:    {PhaseCompanyOverview},
		PhaseInvestmentHighlights: {PhaseMarketAnalysis, PhaseFinancialOverview},
		PhaseRiskFactors:          {PhaseFinancialOverview},
		PhaseExecutiveSummary: {
			PhaseCompanyOverview, PhaseMarketAnalysis, PhaseFinancialOverview,
			PhaseInvestmentHighlights, PhaseRiskFactors,
		},
	}
}

// phaseTitle falls back to the raw phase name for graphs customized
// beyond the built-in section set.
func phaseTitle(p string) string {
	if t, ok := phaseTitles[p]; ok {
		return t
	}
	return p
}

var phaseTitles = map[string]string{
	PhaseExecutiveSummary:     "Executive Summary",
	PhaseCompanyOverview:      "Company Overview",
	PhaseMarketAnalysis:       "Market Analysis",
	PhaseFinancialOverview:    "Financial Overview",
	PhaseInvestmentHighlights: "Investment Highlights",
	PhaseRiskFactors:          "Risk Factors",
}

// CIMRouter drives the phased deal-memorandum builder. Each turn runs
// exactly one phase: the next one whose dependencies are all in
// completedPhases. Phase output accumulates in cimState; the turn
// after the last phase flips the completion flag.
//
// Thread Safety: Safe for concurrent use.
type CIMRouter struct {
	client llm.LLMClient
	logger *slog.Logger
}

// NewCIMRouter creates a CIM phase router.
func NewCIMRouter(client llm.LLMClient, logger *slog.Logger) *CIMRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CIMRouter{client: client, logger: logger}
}

// Node adapts the router into a graph node.
func (c *CIMRouter) Node() graph.NodeFunc {
	return func(ctx context.Context, turn *graph.Turn, st *datatypes.State) (*datatypes.Delta, error) {
		return c.run(ctx, turn, st)
	}
}

func (c *CIMRouter) run(ctx context.Context, turn *graph.Turn, st *datatypes.State) (*datatypes.Delta, error) {
	if st.PendingApproval != nil {
		turn.Emit(stream.Event{Type: stream.EventApprovalRequired, Approval: st.PendingApproval})
		return &datatypes.Delta{}, nil
	}

	cim := st.CIMState
	if cim == nil {
		// First cim-mode turn: propose the build plan and pause for
		// approval before generating anything.
		return c.proposePlan(turn), nil
	}
	cs := cloneCIMState(cim)
	if cs.Dependencies == nil {
		cs.Dependencies = defaultPhaseDependencies()
	}

	phase := nextEligiblePhase(cs)
	if phase == "" {
		cs.Complete = true
		cs.CurrentPhase = ""
		doneMsg := llm.ChatMessage{
			ID:      uuid.NewString(),
			Role:    llm.RoleAssistant,
			Content: fmt.Sprintf("The deal memorandum is complete: %d sections generated.", len(cs.PhaseData)),
		}
		turn.Emit(stream.Event{Type: stream.EventToken, Token: doneMsg.Content})
		return &datatypes.Delta{Messages: []llm.ChatMessage{doneMsg}, CIMState: cs}, nil
	}

	cs.CurrentPhase = phase
	turn.Emit(stream.Event{Type: stream.EventSpecialistProgress, Progress: &stream.Progress{
		Specialist: "cim_builder",
		Phase:      phase,
		Message:    "Drafting " + phaseTitle(phase),
	}})

	content, err := c.generatePhase(ctx, turn, st, cs, phase)
	if err != nil {
		return &datatypes.Delta{CIMState: cs}, datatypes.WrapAgentError(
			datatypes.ErrCodeLLMFailure, "memorandum phase generation failed", true, err)
	}

	cs.PhaseData = append(cs.PhaseData, datatypes.CIMPhaseData{
		Phase:   phase,
		Content: map[string]any{"title": phaseTitle(phase), "body": content},
	})
	cs.CompletedPhases = append(cs.CompletedPhases, phase)
	c.logger.Info("memorandum phase completed",
		"phase", phase,
		"completed", len(cs.CompletedPhases),
		"total", len(cs.Dependencies))
	cs.Slides = append(cs.Slides, phaseTitle(phase))
	cs.Complete = len(cs.CompletedPhases) == len(cs.Dependencies)
	if cs.Complete {
		cs.CurrentPhase = ""
	}

	turn.Emit(stream.Event{Type: stream.EventSpecialistProgress, Progress: &stream.Progress{
		Specialist: "cim_builder",
		Phase:      phase,
		Message:    "Completed " + phaseTitle(phase),
	}})

	assistant := llm.ChatMessage{
		ID:      uuid.NewString(),
		Role:    llm.RoleAssistant,
		Content: content,
	}
	specialist := "cim_builder"
	return &datatypes.Delta{
		Messages:         []llm.ChatMessage{assistant},
		CIMState:         cs,
		ActiveSpecialist: &specialist,
	}, nil
}

// proposePlan emits the phase plan as a plan_approval request. The
// approval decision handler seeds cimState on acceptance.
func (c *CIMRouter) proposePlan(turn *graph.Turn) *datatypes.Delta {
	deps := defaultPhaseDependencies()
	steps := make([]string, 0, len(deps))
	for _, p := range orderedPhases(deps) {
		steps = append(steps, phaseTitle(p))
	}
	req := &datatypes.ApprovalRequest{
		ID:      uuid.NewString(),
		Kind:    datatypes.ApprovalPlan,
		Summary: "Build a deal memorandum in " + fmt.Sprint(len(steps)) + " sections",
		Plan: &datatypes.PlanPayload{
			Objective: "Generate the memorandum sections in dependency order so each one can cite the sections it builds on.",
			Steps:     steps,
		},
	}
	turn.Emit(stream.Event{Type: stream.EventApprovalRequired, Approval: req})
	return &datatypes.Delta{PendingApproval: req}
}

// SeedCIMState returns the initial builder state used once the plan is
// approved.
func SeedCIMState() *datatypes.CIMState {
	return &datatypes.CIMState{
		Dependencies: defaultPhaseDependencies(),
	}
}

func (c *CIMRouter) generatePhase(ctx context.Context, turn *graph.Turn, st *datatypes.State, cs *datatypes.CIMState, phase string) (string, error) {
	var prompt strings.Builder
	prompt.WriteString("You are drafting the \"")
	prompt.WriteString(phaseTitle(phase))
	prompt.WriteString("\" section of a confidential information memorandum.")
	if st.DealContext != nil {
		fmt.Fprintf(&prompt, " The deal is %s.", st.DealContext.DealName)
	}
	if rc, ok := st.Scratchpad[ScratchRetrievalContext].(string); ok && rc != "" {
		prompt.WriteString("\n\nSource material:\n")
		prompt.WriteString(rc)
	}
	for _, pd := range cs.PhaseData {
		for _, dep := range cs.Dependencies[phase] {
			if pd.Phase == dep {
				if body, ok := pd.Content["body"].(string); ok {
					fmt.Fprintf(&prompt, "\n\nCompleted section %q:\n%s", phaseTitle(dep), body)
				}
			}
		}
	}
	prompt.WriteString("\n\nWrite the section now. Cite sources for every figure.")

	resp, err := c.client.ChatStream(ctx, &llm.ChatRequest{
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: prompt.String()}},
	}, func(token string) error {
		if !turn.Emit(stream.Event{Type: stream.EventToken, Token: token}) {
			return context.Canceled
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// nextEligiblePhase picks the first incomplete phase, in deterministic
// order, whose dependencies are all completed. Empty when every phase
// is done.
func nextEligiblePhase(cs *datatypes.CIMState) string {
	done := make(map[string]bool, len(cs.CompletedPhases))
	for _, p := range cs.CompletedPhases {
		done[p] = true
	}
	for _, p := range orderedPhases(cs.Dependencies) {
		if done[p] {
			continue
		}
		eligible := true
		for _, dep := range cs.Dependencies[p] {
			if !done[dep] {
				eligible = false
				break
			}
		}
		if eligible {
			return p
		}
	}
	return ""
}

// orderedPhases is a topological order over the dependency graph,
// stable across runs. Phases outside the known set sort after the
// known ones so a customized graph still terminates.
func orderedPhases(deps map[string][]string) []string {
	known := []string{
		PhaseCompanyOverview, PhaseMarketAnalysis, PhaseFinancialOverview,
		PhaseInvestmentHighlights, PhaseRiskFactors, PhaseExecutiveSummary,
	}
	out := make([]string, 0, len(deps))
	for _, p := range known {
		if _, ok := deps[p]; ok {
			out = append(out, p)
		}
	}
	var extra []string
	for p := range deps {
		seen := false
		for _, k := range known {
			if p == k {
				seen = true
				break
			}
		}
		if !seen {
			extra = append(extra, p)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func cloneCIMState(in *datatypes.CIMState) *datatypes.CIMState {
	out := &datatypes.CIMState{
		CurrentPhase:    in.CurrentPhase,
		CompletedPhases: append([]string(nil), in.CompletedPhases...),
		PhaseData:       append([]datatypes.CIMPhaseData(nil), in.PhaseData...),
		Slides:          append([]string(nil), in.Slides...),
		Complete:        in.Complete,
	}
	if in.Dependencies != nil {
		out.Dependencies = make(map[string][]string, len(in.Dependencies))
		for k, v := range in.Dependencies {
			out.Dependencies[k] = append([]string(nil), v...)
		}
	}
	return out
}
