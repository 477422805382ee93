// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"strings"
	"unicode"
)

// threadSep joins thread identifier components. Components must not
// contain it, so parsing is unambiguous without escaping.
const threadSep = ":"

// ThreadID scopes one conversation: checkpoints, caches, and streams
// all key on its composed form. Chat and IRL threads carry four
// components (mode, deal, user, conversation); CIM threads are shared
// per deal and omit the user.
type ThreadID struct {
	Mode           WorkflowMode
	DealID         string
	UserID         string // empty for cim threads
	ConversationID string
}

// NewThreadID validates and builds a thread identifier.
func NewThreadID(mode WorkflowMode, dealID, userID, conversationID string) (ThreadID, error) {
	t := ThreadID{Mode: mode, DealID: dealID, UserID: userID, ConversationID: conversationID}
	if err := t.validate(); err != nil {
		return ThreadID{}, err
	}
	return t, nil
}

func (t ThreadID) validate() error {
	if !t.Mode.Valid() {
		return fmt.Errorf("invalid workflow mode %q", t.Mode)
	}
	if err := checkComponent("deal id", t.DealID); err != nil {
		return err
	}
	if err := checkComponent("conversation id", t.ConversationID); err != nil {
		return err
	}
	if t.Mode == ModeCIM {
		if t.UserID != "" {
			return fmt.Errorf("cim threads are deal-scoped and must not carry a user id")
		}
		return nil
	}
	return checkComponent("user id", t.UserID)
}

// checkComponent rejects empty components and characters that would
// break round-tripping through the composed form.
func checkComponent(name, v string) error {
	if v == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	if strings.Contains(v, threadSep) {
		return fmt.Errorf("%s must not contain %q", name, threadSep)
	}
	for _, r := range v {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%s must not contain whitespace or control characters", name)
		}
	}
	return nil
}

// String composes the canonical form:
//
//	chat:dealId:userId:conversationId
//	cim:dealId:conversationId
//
// The result round-trips through ParseThreadID.
func (t ThreadID) String() string {
	if t.Mode == ModeCIM {
		return strings.Join([]string{string(t.Mode), t.DealID, t.ConversationID}, threadSep)
	}
	return strings.Join([]string{string(t.Mode), t.DealID, t.UserID, t.ConversationID}, threadSep)
}

// ParseThreadID parses a composed thread identifier, applying the same
// validation as NewThreadID.
func ParseThreadID(s string) (ThreadID, error) {
	parts := strings.Split(s, threadSep)
	if len(parts) < 3 {
		return ThreadID{}, fmt.Errorf("malformed thread id %q", s)
	}
	mode := WorkflowMode(parts[0])
	switch {
	case mode == ModeCIM && len(parts) == 3:
		return NewThreadID(mode, parts[1], "", parts[2])
	case mode != ModeCIM && len(parts) == 4:
		return NewThreadID(mode, parts[1], parts[2], parts[3])
	}
	return ThreadID{}, fmt.Errorf("thread id %q has wrong component count for mode %q", s, mode)
}
