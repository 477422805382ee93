// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package uncertainty scores how well retrieval supported a turn and
// suggests what the user can do when support is weak. It also carries
// lint-style honesty checks used by the evaluation harness.
package uncertainty

import (
	"regexp"
	"strings"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
)

// Level grades retrieval support for a response.
type Level string

const (
	// LevelComplete means no sources were found at all.
	LevelComplete Level = "complete"

	// LevelNone means sources strongly support the response.
	LevelNone Level = "none"

	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Assessment is the result of one detection pass.
type Assessment struct {
	Level    Level   `json:"level"`
	AvgScore float64 `json:"avg_score"`
}

// Thresholds are the mean-relevance cutoffs between levels. Each is an
// exclusive lower bound for the stronger grade.
type Thresholds struct {
	Strong   float64
	Moderate float64
	Weak     float64
}

// DefaultThresholds returns the product defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Strong: 0.7, Moderate: 0.5, Weak: 0.3}
}

// Detect grades the source set with the default thresholds.
func Detect(sources []datatypes.SourceCitation) Assessment {
	return DetectWith(sources, DefaultThresholds())
}

// DetectWith grades the source set. An empty set is complete
// uncertainty; otherwise the mean relevance maps through th.
func DetectWith(sources []datatypes.SourceCitation, th Thresholds) Assessment {
	if len(sources) == 0 {
		return Assessment{Level: LevelComplete}
	}

	sum := 0.0
	for _, s := range sources {
		sum += s.Relevance
	}
	avg := sum / float64(len(sources))

	var level Level
	switch {
	case avg > th.Strong:
		level = LevelNone
	case avg > th.Moderate:
		level = LevelLow
	case avg > th.Weak:
		level = LevelMedium
	default:
		level = LevelHigh
	}
	return Assessment{Level: level, AvgScore: avg}
}

// GenerateNextSteps suggests user actions for an uncertainty level.
//
// The hasDocuments flag gates the suggestions: with no documents
// uploaded there is nothing to search, so "search additional sources"
// must never appear; the only useful step is uploading. When documents
// exist but nothing relevant surfaced, escalation to the Q&A tracker
// is suggested instead of a doomed re-search.
func GenerateNextSteps(level Level, hasDocuments bool) []string {
	if level == LevelNone {
		return nil
	}

	if !hasDocuments {
		return []string{
			"Upload the relevant deal documents so they can be searched.",
		}
	}

	switch level {
	case LevelComplete, LevelHigh:
		return []string{
			"Add this as a question in the Q&A tracker for the seller.",
			"Upload additional documents covering this topic.",
		}
	case LevelMedium:
		return []string{
			"Search additional sources with more specific terms.",
			"Add a follow-up question to the Q&A tracker if the answer stays incomplete.",
		}
	case LevelLow:
		return []string{
			"Search additional sources to corroborate the details.",
		}
	}
	return nil
}

var (
	hedgeRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bI think\b`),
		regexp.MustCompile(`(?i)\bI believe\b`),
		regexp.MustCompile(`(?i)(^|\.\s+)maybe\b`),
		regexp.MustCompile(`(?i)(^|\.\s+|\n)i don't know\.?($|\s*$)`),
	}

	moneyRe = regexp.MustCompile(`[$€£]\s?\d[\d,.]*\s?(?:[mkbMKB]|million|billion|thousand)?`)

	citationNearRe = regexp.MustCompile(`(?i)\[source|\(source|per the|according to|as stated in|from the`)
)

// HonestyFlag is one lint finding on a response.
type HonestyFlag struct {
	Kind    string `json:"kind"` // "hedging" or "unsourced_figure"
	Excerpt string `json:"excerpt"`
}

// ValidateResponseHonesty flags hedging language and monetary figures
// that lack a nearby citation. These are lint checks for the
// evaluation harness, not runtime blocks.
func ValidateResponseHonesty(response string) []HonestyFlag {
	var flags []HonestyFlag

	for _, re := range hedgeRes {
		if loc := re.FindString(response); loc != "" {
			flags = append(flags, HonestyFlag{Kind: "hedging", Excerpt: strings.TrimSpace(loc)})
		}
	}

	for _, loc := range moneyRe.FindAllStringIndex(response, -1) {
		// A citation marker within the surrounding window counts as
		// sourcing the figure.
		lo := loc[0] - 120
		if lo < 0 {
			lo = 0
		}
		hi := loc[1] + 120
		if hi > len(response) {
			hi = len(response)
		}
		if !citationNearRe.MatchString(response[lo:hi]) {
			flags = append(flags, HonestyFlag{Kind: "unsourced_figure", Excerpt: response[loc[0]:loc[1]]})
		}
	}
	return flags
}
