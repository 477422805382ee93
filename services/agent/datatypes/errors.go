// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies agent failures for routing and for the
// append-only error log on the state.
type ErrorCode string

const (
	ErrCodeLLMFailure        ErrorCode = "llm_failure"
	ErrCodeToolExecution     ErrorCode = "tool_execution"
	ErrCodeToolInput         ErrorCode = "tool_input"
	ErrCodeInvalidTransition ErrorCode = "invalid_transition"
	ErrCodeDealContext       ErrorCode = "deal_context"
	ErrCodeApprovalRejected  ErrorCode = "approval_rejected"
	ErrCodeRetrieval         ErrorCode = "retrieval"
	ErrCodeCacheBackend      ErrorCode = "cache_backend"
	ErrCodeCheckpoint        ErrorCode = "checkpoint"
	ErrCodeStreaming         ErrorCode = "streaming"
	ErrCodeInternal          ErrorCode = "internal"
)

// AgentError is the structured error recorded on the state and
// surfaced over the stream. Recoverable errors let the turn continue
// with degraded behavior; unrecoverable ones terminate the turn.
type AgentError struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	NodeID      string    `json:"node_id,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`

	cause error
}

// NewAgentError builds an error with the timestamp set to now.
func NewAgentError(code ErrorCode, msg string, recoverable bool) *AgentError {
	return &AgentError{
		Code:        code,
		Message:     msg,
		Recoverable: recoverable,
		Timestamp:   time.Now().UTC(),
	}
}

// WrapAgentError builds an error that preserves the underlying cause
// for errors.Is/As chains.
func WrapAgentError(code ErrorCode, msg string, recoverable bool, cause error) *AgentError {
	e := NewAgentError(code, msg, recoverable)
	e.cause = cause
	return e
}

// WithNode tags the error with the graph node that raised it.
func (e *AgentError) WithNode(nodeID string) *AgentError {
	e.NodeID = nodeID
	return e
}

func (e *AgentError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AgentError) Unwrap() error { return e.cause }

// AsAgentError extracts an AgentError from an error chain, or wraps a
// plain error as an unrecoverable internal error so the log always
// carries structured entries.
func AsAgentError(err error) *AgentError {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae
	}
	return WrapAgentError(ErrCodeInternal, err.Error(), false, err)
}

// IsRecoverable reports whether an error chain resolves to a
// recoverable agent error.
func IsRecoverable(err error) bool {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Recoverable
	}
	return false
}
