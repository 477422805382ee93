// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Builder guards the compile-once invariant. Two callers racing to
// the first compilation share a single in-flight build; the loser
// waits and receives the winner's instance rather than compiling a
// second one.
//
// Thread Safety: Safe for concurrent use.
type Builder struct {
	build func() (*Compiled, error)

	mu       sync.Mutex
	compiled *Compiled
	sf       singleflight.Group
}

// NewBuilder wraps a build function. The function runs at most once
// per successful compilation.
func NewBuilder(build func() (*Compiled, error)) *Builder {
	return &Builder{build: build}
}

// Get returns the compiled graph, building it on first use. A failed
// build is not cached; the next caller retries.
func (b *Builder) Get() (*Compiled, error) {
	b.mu.Lock()
	cached := b.compiled
	b.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := b.sf.Do("compile", func() (any, error) {
		// Re-check inside the flight: a Reset racing with Get could
		// otherwise rebuild over a fresh instance.
		b.mu.Lock()
		cached := b.compiled
		b.mu.Unlock()
		if cached != nil {
			return cached, nil
		}

		compiled, err := b.build()
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.compiled = compiled
		b.mu.Unlock()
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Compiled), nil
}

// Reset discards the cached instance so the next Get recompiles.
// Used by tests and config hot reload.
func (b *Builder) Reset() {
	b.mu.Lock()
	b.compiled = nil
	b.mu.Unlock()
}
