// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
)

// Checkpointer persists conversation state between turns. Checkpoints
// are keyed strictly by the composed thread identifier; no key scheme
// lets one thread observe another's state.
type Checkpointer interface {
	// Save persists the state for the thread.
	Save(ctx context.Context, threadID string, st *datatypes.State) error

	// Load returns the last persisted state and true, or false when
	// the thread has no checkpoint yet.
	Load(ctx context.Context, threadID string) (*datatypes.State, bool, error)

	// Delete removes a thread's checkpoint.
	Delete(ctx context.Context, threadID string) error
}

// =============================================================================
// Memory Checkpointer
// =============================================================================

// MemoryCheckpointer holds checkpoints in process memory. States are
// stored serialized so callers can never alias a checkpointed state.
//
// Thread Safety: Safe for concurrent use.
type MemoryCheckpointer struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{blobs: make(map[string][]byte)}
}

func (m *MemoryCheckpointer) Save(_ context.Context, threadID string, st *datatypes.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	m.mu.Lock()
	m.blobs[threadID] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryCheckpointer) Load(_ context.Context, threadID string) (*datatypes.State, bool, error) {
	m.mu.RLock()
	raw, ok := m.blobs[threadID]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	var st datatypes.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &st, true, nil
}

func (m *MemoryCheckpointer) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	delete(m.blobs, threadID)
	m.mu.Unlock()
	return nil
}

// =============================================================================
// Badger Checkpointer
// =============================================================================

const checkpointPrefix = "checkpoint/"

// BadgerCheckpointer persists checkpoints in Badger so threads resume
// across process restarts.
//
// Thread Safety: Safe for concurrent use.
type BadgerCheckpointer struct {
	db *badger.DB
}

// NewBadgerCheckpointer wraps an open Badger database. The caller owns
// the database lifecycle.
func NewBadgerCheckpointer(db *badger.DB) *BadgerCheckpointer {
	return &BadgerCheckpointer{db: db}
}

func (b *BadgerCheckpointer) key(threadID string) []byte {
	return []byte(checkpointPrefix + threadID)
}

func (b *BadgerCheckpointer) Save(_ context.Context, threadID string, st *datatypes.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key(threadID), raw)
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (b *BadgerCheckpointer) Load(_ context.Context, threadID string) (*datatypes.State, bool, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(threadID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var st datatypes.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &st, true, nil
}

func (b *BadgerCheckpointer) Delete(_ context.Context, threadID string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.key(threadID))
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
