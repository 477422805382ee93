// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/subtle"
	"fmt"
)

// =============================================================================
// Chain Verification
// =============================================================================

// ChainVerificationResult reports the outcome of verifying a hash chain.
//
// # Description
//
// When Valid is false, InvalidEventIndex identifies the first event that
// failed verification and ExpectedHash/ActualHash carry the mismatching
// values for diagnostics.
//
// # Fields
//
//   - Valid: True when every event's hash and chain link checked out
//   - ChainLength: Number of events examined
//   - FinalHash: Hash of the last event (only set when Valid)
//   - InvalidEventIndex: Index of the first bad event, -1 when Valid
//   - ExpectedHash: Hash the verifier computed or expected
//   - ActualHash: Hash the event actually carried
//   - ErrorMessage: Human-readable description of the failure
type ChainVerificationResult struct {
	Valid             bool   `json:"valid"`
	ChainLength       int    `json:"chain_length"`
	FinalHash         string `json:"final_hash,omitempty"`
	InvalidEventIndex int    `json:"invalid_event_index"`
	ExpectedHash      string `json:"expected_hash,omitempty"`
	ActualHash        string `json:"actual_hash,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// VerifyChain recomputes the hash chain over a sequence of wire events.
//
// # Description
//
// Replays the exact computation the SSE writer performs when stamping
// events: each hash must equal the SHA-256 of the event's identity,
// payload, and the previous event's hash, and each PrevHash must link to
// the hash that came before it. A consumer that stored the decoded
// WireEvent sequence can call this to detect dropped, reordered, or
// modified events after the fact.
//
// # Inputs
//
//   - events: The decoded events in the order they were received
//
// # Outputs
//
//   - *ChainVerificationResult: Always non-nil; an empty chain is Valid
//
// # Limitations
//
//   - Recomputes every hash, so cost is linear in total payload size
func VerifyChain(events []WireEvent) *ChainVerificationResult {
	result := &ChainVerificationResult{
		Valid:             true,
		ChainLength:       len(events),
		InvalidEventIndex: -1,
	}

	if len(events) == 0 {
		return result
	}

	if events[0].PrevHash != "" {
		result.Valid = false
		result.InvalidEventIndex = 0
		result.ActualHash = events[0].PrevHash
		result.ErrorMessage = "first event should have empty prev_hash"
		return result
	}

	prevHash := ""
	for i, event := range events {
		if !secureHashEqual(event.PrevHash, prevHash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = prevHash
			result.ActualHash = event.PrevHash
			result.ErrorMessage = fmt.Sprintf(
				"chain broken at event %d: expected prev_hash %s, got %s",
				i, truncateHash(prevHash), truncateHash(event.PrevHash),
			)
			return result
		}

		computed := computeEventHash(event)
		if !secureHashEqual(computed, event.Hash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = computed
			result.ActualHash = event.Hash
			result.ErrorMessage = fmt.Sprintf(
				"hash mismatch at event %d: computed %s, stored %s",
				i, truncateHash(computed), truncateHash(event.Hash),
			)
			return result
		}

		prevHash = event.Hash
	}

	result.FinalHash = events[len(events)-1].Hash
	return result
}

// secureHashEqual compares two hashes in constant time.
func secureHashEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// truncateHash shortens a hash for log and error messages.
func truncateHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12] + "..."
}
