// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intent classifies user utterances to decide whether the turn
// needs document retrieval at all. Greetings and conversation-meta
// questions skip the retrieval pass entirely.
package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Intent is the closed classification set.
type Intent string

const (
	// IntentGreeting is a social opener with no substantive content.
	IntentGreeting Intent = "greeting"

	// IntentMeta is about the conversation or assistant itself
	// (capabilities, "summarize our chat", "what did I just ask").
	IntentMeta Intent = "meta"

	// IntentFactual asks for a fact grounded in deal documents.
	IntentFactual Intent = "factual"

	// IntentTask requests work: analysis, drafting, tracker updates.
	IntentTask Intent = "task"
)

// ShouldRetrieve reports whether the intent requires a retrieval pass.
// Only greetings and meta turns skip it.
func ShouldRetrieve(i Intent) bool {
	return i != IntentGreeting && i != IntentMeta
}

// SemanticClassifier is an optional embedding-based primary path. The
// pattern path is always available as fallback.
type SemanticClassifier interface {
	Classify(ctx context.Context, utterance string) (Intent, error)
}

// Classifier maps utterances to intents. The deterministic pattern
// path never fails; when a semantic classifier is configured it runs
// first and the pattern path covers its errors.
//
// Thread Safety: Safe for concurrent use.
type Classifier struct {
	semantic SemanticClassifier
	logger   *slog.Logger
}

// Config configures a Classifier.
type Config struct {
	// Semantic is the optional embedding-based path. Nil disables it.
	Semantic SemanticClassifier

	// Logger for fallback warnings. If nil, uses slog.Default().
	Logger *slog.Logger
}

// New creates a classifier.
func New(config *Config) *Classifier {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{semantic: config.Semantic, logger: logger}
}

// Classify returns the intent for an utterance. It never returns an
// error: semantic failures fall back to the pattern path.
func (c *Classifier) Classify(ctx context.Context, utterance string) Intent {
	if c.semantic != nil {
		intent, err := c.semantic.Classify(ctx, utterance)
		if err == nil {
			return intent
		}
		c.logger.Warn("semantic intent classification failed, using pattern path",
			slog.Any("error", err),
		)
	}
	return classifyPattern(utterance)
}

var (
	greetingRe = regexp.MustCompile(`^(hi|hiya|hey|hello|howdy|good (morning|afternoon|evening)|greetings|yo)\b[.!,\s]*`)

	// questionContentRe detects substantive content embedded after a
	// greeting prefix: interrogatives, question marks, or imperative
	// task verbs.
	questionContentRe = regexp.MustCompile(`\?|\b(what|when|where|who|which|why|how|is|are|was|were|does|did|can|could|tell|show|find|list|explain|compare|calculate)\b`)

	taskVerbRe = regexp.MustCompile(`\b(create|update|delete|add|remove|draft|write|generate|build|analyze|analyse|compare|review|check|validate|track|flag|prepare|suggest|identify|extract|compile)\b`)

	metaRe = regexp.MustCompile(`\b(what can you do|who are you|your capabilit|help me use|how do i use|what did (i|we) (say|ask|discuss)|our (chat|conversation|discussion)|this conversation)\b`)

	conversationObjectRe = regexp.MustCompile(`\b(conversation|chat|discussion|our messages|what we('ve| have)? (said|discussed|covered))\b`)

	summarizeRe = regexp.MustCompile(`\b(summari[sz]e|recap|tl;?dr)\b`)
)

// classifyPattern is the deterministic fallback path.
//
// Order matters: the greeting check runs last on purpose. A message
// that opens with "Hi," but carries an embedded question must classify
// as the substantive intent, so substantive checks get first refusal
// on the greeting-stripped remainder.
func classifyPattern(utterance string) Intent {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return IntentMeta
	}

	// Strip a leading greeting so "Hi, what was the revenue?" is
	// judged on "what was the revenue?".
	rest := greetingRe.ReplaceAllString(text, "")
	rest = strings.TrimSpace(rest)

	// "Summarize X" splits on the object: conversation history is
	// meta, domain content is a task.
	if summarizeRe.MatchString(text) {
		if conversationObjectRe.MatchString(text) {
			return IntentMeta
		}
		return IntentTask
	}

	if metaRe.MatchString(text) {
		return IntentMeta
	}

	if rest == "" {
		// Nothing beyond the greeting.
		return IntentGreeting
	}

	if taskVerbRe.MatchString(rest) {
		return IntentTask
	}
	if questionContentRe.MatchString(rest) {
		return IntentFactual
	}
	if rest == text {
		// No greeting prefix and nothing matched: treat a statement
		// about the deal as factual so retrieval still runs.
		return IntentFactual
	}
	return IntentGreeting
}
