// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pool

import (
	"log/slog"
	"sort"
	"sync"
	"unicode/utf8"
)

// ResourcePool is the canonical keyed store for one engine run.
//
// Update semantics: map-valued entries merge key-by-key (never a
// wholesale overwrite), list-valued entries append, scalars replace.
// Get returns deep copies so callers cannot mutate canonical state.
//
// Thread Safety:
//
//	ResourcePool is safe for concurrent use, although a run's loop is
//	sequential; the lock guards against concurrent tool completions
//	updating the pool within a single turn.
type ResourcePool struct {
	mu      sync.RWMutex
	entries map[string]any
	logger  *slog.Logger
}

// PoolOption configures a ResourcePool.
type PoolOption func(*ResourcePool)

// WithLogger sets the pool's logger.
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *ResourcePool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewResourcePool creates an empty pool.
func NewResourcePool(opts ...PoolOption) *ResourcePool {
	p := &ResourcePool{
		entries: make(map[string]any),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Update merges a partial update into the pool.
//
// Description:
//
//	For each key in partial: if both the existing and incoming values
//	are maps, they merge key-wise (recursively, so repeated application
//	of the same update is idempotent); if both are lists, the incoming
//	elements are appended; otherwise the incoming value replaces the
//	existing one. Data is never silently dropped: a merge is a union.
//
// Inputs:
//
//	partial - The update to merge. Nil or empty maps are no-ops.
//
// Thread Safety: This method is safe for concurrent use.
func (p *ResourcePool) Update(partial map[string]any) {
	if len(partial) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for key, incoming := range partial {
		existing, ok := p.entries[key]
		if !ok {
			p.entries[key] = deepCopy(incoming)
			continue
		}
		p.entries[key] = mergeValues(existing, incoming)
	}
}

// mergeValues merges incoming into existing per the pool's semantics.
// The existing value is owned by the pool and may be mutated in place;
// incoming is copied before insertion.
func mergeValues(existing, incoming any) any {
	switch ex := existing.(type) {
	case map[string]any:
		in, ok := incoming.(map[string]any)
		if !ok {
			return deepCopy(incoming)
		}
		for k, v := range in {
			if cur, found := ex[k]; found {
				ex[k] = mergeValues(cur, v)
			} else {
				ex[k] = deepCopy(v)
			}
		}
		return ex
	case []any:
		in, ok := incoming.([]any)
		if !ok {
			return deepCopy(incoming)
		}
		for _, v := range in {
			ex = append(ex, deepCopy(v))
		}
		return ex
	default:
		return deepCopy(incoming)
	}
}

// Get returns a deep copy of the value stored under key.
//
// Outputs:
//
//	any - A deep copy of the canonical value, or nil if absent.
//	bool - True if the key exists.
//
// Thread Safety: This method is safe for concurrent use.
func (p *ResourcePool) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Keys returns the pool's keys, sorted.
func (p *ResourcePool) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildMemory builds the fixed-shape per-turn snapshot.
//
// Description:
//
//	The snapshot's size is O(1) with respect to the number of cached
//	entities and to the iteration count: entity names are capped at
//	maxMemoryEntityNames, the last error at maxMemoryErrorLen, and all
//	other fields are flags and counters. This is the mechanism that
//	keeps prompt size flat across many turns even against a schema of
//	hundreds of entities.
//
// Thread Safety: This method is safe for concurrent use.
func (p *ResourcePool) BuildMemory() ContextMemory {
	p.mu.RLock()
	defer p.mu.RUnlock()

	mem := ContextMemory{
		EntityNames: make([]string, 0, maxMemoryEntityNames),
	}

	if schema, ok := p.entries[KeySchema].(map[string]any); ok && len(schema) > 0 {
		mem.SchemaAvailable = true
		names := make([]string, 0, len(schema))
		for name := range schema {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) > maxMemoryEntityNames {
			names = names[:maxMemoryEntityNames]
		}
		mem.EntityNames = names
	}

	if artifacts, ok := p.entries[KeyArtifactHistory].([]any); ok && len(artifacts) > 0 {
		mem.HasArtifact = true
		mem.ArtifactCount = len(artifacts)
	}

	if validations, ok := p.entries[KeyValidationHistory].([]any); ok && len(validations) > 0 {
		for _, v := range validations {
			entry, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if passed, _ := entry["success"].(bool); !passed {
				mem.ErrorCount++
			}
		}
		if last, ok := validations[len(validations)-1].(map[string]any); ok {
			passed, _ := last["success"].(bool)
			mem.ValidationPassed = passed
			if msg, _ := last["error"].(string); msg != "" {
				mem.LastError = truncate(msg, maxMemoryErrorLen)
			}
		}
	}

	return mem
}

// ExtractForStep returns the minimal resource bundle a step needs.
//
// Description:
//
//	Generation receives the full schema plus template context; validation
//	receives the latest artifact plus the schema; repair receives the
//	latest artifact, prior validation errors, and the schema. The returned
//	bundle is built from deep copies, so calling this repeatedly with the
//	same step type and pool state yields identical, independent results.
//
// Inputs:
//
//	step - The step type selecting the bundle.
//
// Outputs:
//
//	map[string]any - The bundle. Missing resources are simply absent.
//
// Thread Safety: This method is safe for concurrent use.
func (p *ResourcePool) ExtractForStep(step StepType) map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	bundle := make(map[string]any)

	copyIn := func(key string) {
		if v, ok := p.entries[key]; ok {
			bundle[key] = deepCopy(v)
		}
	}

	switch step {
	case StepGeneration:
		copyIn(KeySchema)
		copyIn(KeyTemplateContext)
	case StepValidation:
		copyIn(KeySchema)
		if artifact := p.latestArtifactLocked(); artifact != nil {
			bundle["artifact"] = deepCopy(artifact)
		}
	case StepRepair:
		copyIn(KeySchema)
		if artifact := p.latestArtifactLocked(); artifact != nil {
			bundle["artifact"] = deepCopy(artifact)
		}
		copyIn(KeyValidationHistory)
	default:
		p.logger.Warn("unknown step type for extraction", "step", string(step))
	}

	return bundle
}

// latestArtifactLocked returns the most recent artifact. Caller must
// hold at least a read lock.
func (p *ResourcePool) latestArtifactLocked() any {
	artifacts, ok := p.entries[KeyArtifactHistory].([]any)
	if !ok || len(artifacts) == 0 {
		return nil
	}
	return artifacts[len(artifacts)-1]
}

// deepCopy copies maps and slices recursively. Scalars and unrecognized
// types are returned as-is; pool values are expected to be built from
// JSON-like shapes (maps, slices, strings, numbers, bools).
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
