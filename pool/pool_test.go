// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pool

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcePool_MergeMapsKeyWise(t *testing.T) {
	p := NewResourcePool()

	p.Update(map[string]any{
		KeySchema: map[string]any{
			"Account": map[string]any{"fields": []any{"Id", "Name"}},
		},
	})
	p.Update(map[string]any{
		KeySchema: map[string]any{
			"Contact": map[string]any{"fields": []any{"Id", "Email"}},
		},
	})

	v, ok := p.Get(KeySchema)
	require.True(t, ok)
	schema := v.(map[string]any)
	assert.Contains(t, schema, "Account", "earlier keys survive later updates")
	assert.Contains(t, schema, "Contact")
}

func TestResourcePool_MergeIdempotence(t *testing.T) {
	update := map[string]any{
		KeySchema: map[string]any{
			"Account": map[string]any{"description": "customer accounts"},
		},
	}

	once := NewResourcePool()
	once.Update(update)

	twice := NewResourcePool()
	twice.Update(update)
	twice.Update(update)

	a, _ := once.Get(KeySchema)
	b, _ := twice.Get(KeySchema)
	assert.Equal(t, a, b, "applying the same map update twice equals applying it once")
}

func TestResourcePool_ListsAppend(t *testing.T) {
	p := NewResourcePool()

	p.Update(map[string]any{KeyArtifactHistory: []any{"SELECT Id FROM Account"}})
	p.Update(map[string]any{KeyArtifactHistory: []any{"SELECT Id, Name FROM Account"}})

	v, ok := p.Get(KeyArtifactHistory)
	require.True(t, ok)
	artifacts := v.([]any)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "SELECT Id FROM Account", artifacts[0])
}

func TestResourcePool_GetReturnsDeepCopy(t *testing.T) {
	p := NewResourcePool()
	p.Update(map[string]any{
		KeySchema: map[string]any{"Account": map[string]any{"description": "original"}},
	})

	v, _ := p.Get(KeySchema)
	v.(map[string]any)["Account"].(map[string]any)["description"] = "mutated"

	fresh, _ := p.Get(KeySchema)
	desc := fresh.(map[string]any)["Account"].(map[string]any)["description"]
	assert.Equal(t, "original", desc, "callers must not be able to mutate canonical state")
}

func TestResourcePool_BuildMemoryBounded(t *testing.T) {
	p := NewResourcePool()

	// A schema of hundreds of entities and a long run history.
	schema := make(map[string]any, 500)
	for i := 0; i < 500; i++ {
		schema[fmt.Sprintf("Entity%03d", i)] = map[string]any{"fields": []any{"Id"}}
	}
	p.Update(map[string]any{KeySchema: schema})

	for i := 0; i < 200; i++ {
		p.Update(map[string]any{
			KeyArtifactHistory: []any{fmt.Sprintf("artifact %d", i)},
			KeyValidationHistory: []any{map[string]any{
				"success": false,
				"error":   strings.Repeat("long validation failure detail ", 50),
			}},
		})
	}

	mem := p.BuildMemory()

	assert.True(t, mem.SchemaAvailable)
	assert.True(t, mem.HasArtifact)
	assert.LessOrEqual(t, len(mem.EntityNames), 10, "entity names are capped")
	assert.LessOrEqual(t, len(mem.LastError), 200, "last error is truncated")
	assert.Equal(t, 200, mem.ArtifactCount)
	assert.Equal(t, 200, mem.ErrorCount)
}

func TestResourcePool_BuildMemoryValidationState(t *testing.T) {
	p := NewResourcePool()
	p.Update(map[string]any{
		KeyValidationHistory: []any{
			map[string]any{"success": false, "error": "unknown field Foo"},
			map[string]any{"success": true},
		},
	})

	mem := p.BuildMemory()
	assert.True(t, mem.ValidationPassed, "latest validation wins")
	assert.Equal(t, 1, mem.ErrorCount)
	assert.Empty(t, mem.LastError)
}

func TestResourcePool_BuildMemoryErrorStaysValidUTF8(t *testing.T) {
	p := NewResourcePool()
	p.Update(map[string]any{
		KeyValidationHistory: []any{
			map[string]any{"success": false, "error": strings.Repeat("エンティティが見つかりません", 20)},
		},
	})

	mem := p.BuildMemory()
	assert.LessOrEqual(t, len(mem.LastError), 200)
	assert.True(t, utf8.ValidString(mem.LastError), "truncation must not split a rune")
}

func TestResourcePool_ExtractForStepIdempotent(t *testing.T) {
	p := NewResourcePool()
	p.Update(map[string]any{
		KeySchema:            map[string]any{"Account": map[string]any{"fields": []any{"Id"}}},
		KeyTemplateContext:   map[string]any{"tone": "terse"},
		KeyArtifactHistory:   []any{"SELECT Id FROM Account"},
		KeyValidationHistory: []any{map[string]any{"success": false, "error": "syntax error"}},
	})

	for _, step := range []StepType{StepGeneration, StepValidation, StepRepair} {
		first := p.ExtractForStep(step)
		second := p.ExtractForStep(step)
		assert.Equal(t, first, second, "ExtractForStep(%s) must be idempotent", step)
	}
}

func TestResourcePool_ExtractForStepBundles(t *testing.T) {
	p := NewResourcePool()
	p.Update(map[string]any{
		KeySchema:            map[string]any{"Account": map[string]any{}},
		KeyTemplateContext:   map[string]any{"tone": "terse"},
		KeyArtifactHistory:   []any{"first", "latest"},
		KeyValidationHistory: []any{map[string]any{"success": false, "error": "bad"}},
	})

	gen := p.ExtractForStep(StepGeneration)
	assert.Contains(t, gen, KeySchema)
	assert.Contains(t, gen, KeyTemplateContext)
	assert.NotContains(t, gen, "artifact")

	val := p.ExtractForStep(StepValidation)
	assert.Equal(t, "latest", val["artifact"])
	assert.Contains(t, val, KeySchema)
	assert.NotContains(t, val, KeyValidationHistory)

	rep := p.ExtractForStep(StepRepair)
	assert.Equal(t, "latest", rep["artifact"])
	assert.Contains(t, rep, KeyValidationHistory)
	assert.Contains(t, rep, KeySchema)
}

func TestResourcePool_GetMissingKey(t *testing.T) {
	p := NewResourcePool()
	v, ok := p.Get("nope")
	assert.False(t, ok)
	assert.Nil(t, v)
}
