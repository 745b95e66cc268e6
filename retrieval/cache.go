// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval provides the per-session entity cache and the
// stage-aware lexical retriever that feeds dynamic context to the
// reasoning loop every turn.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/queryforge/queryforge/datasource"
)

// Sentinel errors for the retrieval package.
var (
	// ErrCacheNotInitialized indicates Retrieve was called before Initialize.
	ErrCacheNotInitialized = errors.New("entity cache not initialized")

	// ErrCacheFetchFailed indicates the bulk entity fetch failed.
	ErrCacheFetchFailed = errors.New("entity cache fetch failed")
)

// EntityCache is an explicit per-session cache of all candidate
// entities of one datasource.
//
// A single bulk fetch at session start amortizes the cost of N per-call
// fetches into one; Retrieve and Format then operate purely against
// this cache for the rest of the run. The cache is constructed per
// session and passed by handle, never held as a process-wide singleton;
// if a handle is ever shared across sessions it must be treated as a
// read-only snapshot.
//
// Thread Safety: EntityCache is safe for concurrent use.
type EntityCache struct {
	mu sync.RWMutex

	provider   datasource.Provider
	resourceID string
	entities   []datasource.Entity
	ready      bool
	logger     *slog.Logger
}

// NewEntityCache creates an uninitialized cache over a provider.
//
// Inputs:
//
//	provider - The datasource provider. Must not be nil.
//	resourceID - The external-resource identifier, for logs.
func NewEntityCache(provider datasource.Provider, resourceID string) *EntityCache {
	return &EntityCache{
		provider:   provider,
		resourceID: resourceID,
		logger:     slog.Default(),
	}
}

// Initialize bulk-fetches every entity once.
//
// Description:
//
//	Idempotent: a second call on a ready cache is a no-op. On failure
//	the cache stays uninitialized and the error is returned.
//
// Thread Safety: This method is safe for concurrent use.
func (c *EntityCache) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return nil
	}

	entities, err := c.provider.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheFetchFailed, err)
	}

	c.entities = entities
	c.ready = true
	c.logger.Debug("entity cache initialized",
		"resource_id", c.resourceID,
		"entities", len(entities),
	)
	return nil
}

// Invalidate discards the cached entities. The next Initialize fetches
// them again.
func (c *EntityCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = nil
	c.ready = false
}

// Ready reports whether the cache has been initialized.
func (c *EntityCache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Entities returns a copy of the cached entities.
func (c *EntityCache) Entities() []datasource.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]datasource.Entity, len(c.entities))
	copy(out, c.entities)
	return out
}

// Len returns the number of cached entities.
func (c *EntityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}
