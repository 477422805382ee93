// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore is a persistent Store backed by Badger. TTL is delegated
// to Badger's native entry expiry, so restarts honor remaining TTLs.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// BadgerStoreConfig configures a BadgerStore.
type BadgerStoreConfig struct {
	// Path is the on-disk directory. Ignored when InMemory is set.
	Path string

	// InMemory runs Badger without disk persistence. Used in tests.
	InMemory bool

	// Prefix namespaces keys so multiple caches can share one DB.
	// Default: "cache/".
	Prefix string

	// GCInterval is how often the value-log GC runs.
	// Default: 10 minutes.
	GCInterval time.Duration

	// Logger for GC output. If nil, uses slog.Default().
	Logger *slog.Logger
}

// DefaultBadgerStoreConfig returns the default configuration rooted at
// the given path.
func DefaultBadgerStoreConfig(path string) *BadgerStoreConfig {
	return &BadgerStoreConfig{
		Path:       path,
		Prefix:     "cache/",
		GCInterval: 10 * time.Minute,
	}
}

// NewBadgerStore opens the database and starts the GC loop.
func NewBadgerStore(config *BadgerStoreConfig) (*BadgerStore, error) {
	if config == nil {
		return nil, fmt.Errorf("badger store config is required")
	}

	opts := badger.DefaultOptions(config.Path).
		WithInMemory(config.InMemory).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", config.Path, err)
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "cache/"
	}
	gcInterval := config.GCInterval
	if gcInterval <= 0 {
		gcInterval = 10 * time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &BadgerStore{
		db:     db,
		prefix: []byte(prefix),
		logger: logger,
		stopGC: make(chan struct{}),
		doneGC: make(chan struct{}),
	}
	go s.gcLoop(gcInterval)
	return s, nil
}

// gcLoop runs Badger's value-log GC until Close.
func (s *BadgerStore) gcLoop(interval time.Duration) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// Badger returns ErrNoRewrite when there was nothing to
			// collect; that is the common case and not worth a log line.
			if err := s.db.RunValueLogGC(0.5); err != nil &&
				!errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC failed", slog.Any("error", err))
			}
		}
	}
}

func (s *BadgerStore) key(k string) []byte {
	return append(append([]byte(nil), s.prefix...), k...)
}

func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get: %w", err)
	}
	return out, true, nil
}

func (s *BadgerStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(s.key(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

func (s *BadgerStore) Clear(_ context.Context) error {
	err := s.db.DropPrefix(s.prefix)
	if err != nil {
		return fmt.Errorf("badger clear: %w", err)
	}
	return nil
}

// Len counts live entries under the prefix. It iterates keys only, so
// it is cheap relative to value reads, but still O(n).
func (s *BadgerStore) Len(_ context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger len: %w", err)
	}
	return count, nil
}

func (s *BadgerStore) Name() string { return "badger" }

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	close(s.stopGC)
	<-s.doneGC
	return s.db.Close()
}
