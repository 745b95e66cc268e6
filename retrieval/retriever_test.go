// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryforge/queryforge/datasource"
)

func testEntities() []datasource.Entity {
	return []datasource.Entity{
		{
			Name:        "orders",
			Description: "customer purchase orders",
			Fields: []datasource.Field{
				{Name: "id", Type: "int"},
				{Name: "customer_id", Type: "int"},
				{Name: "total", Type: "decimal"},
			},
		},
		{
			Name:        "customers",
			Description: "registered customers",
			Fields: []datasource.Field{
				{Name: "id", Type: "int"},
				{Name: "name", Type: "string"},
				{Name: "email", Type: "string"},
			},
		},
		{
			Name:        "inventory",
			Description: "warehouse stock levels",
			Fields: []datasource.Field{
				{Name: "sku", Type: "string"},
				{Name: "quantity", Type: "int"},
			},
		},
	}
}

func newReadyCache(t *testing.T) (*EntityCache, *datasource.MockProvider) {
	t.Helper()
	provider := datasource.NewMockProvider(testEntities())
	cache := NewEntityCache(provider, "test-db")
	require.NoError(t, cache.Initialize(context.Background()))
	return cache, provider
}

func TestRetrieve_RanksNameMatchesHighest(t *testing.T) {
	cache, _ := newReadyCache(t)
	r := NewRetriever(cache)

	docs, err := r.Retrieve(context.Background(), "monthly orders report", StageGeneration, 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	assert.Equal(t, "orders", docs[0].Source)
	for i := 1; i < len(docs); i++ {
		assert.LessOrEqual(t, docs[i].Score, docs[i-1].Score)
	}
}

func TestRetrieve_FieldMatchScoresLowerThanName(t *testing.T) {
	cache, _ := newReadyCache(t)
	r := NewRetriever(cache)

	// "customer" matches the customers entity name and the orders
	// customer_id field; the name match must win.
	docs, err := r.Retrieve(context.Background(), "customer details", StageGeneration, 5)
	require.NoError(t, err)
	require.True(t, len(docs) >= 2)
	assert.Equal(t, "customers", docs[0].Source)
}

func TestRetrieve_StageMultipliers(t *testing.T) {
	cache, _ := newReadyCache(t)
	r := NewRetriever(cache)
	ctx := context.Background()

	base, err := r.Retrieve(ctx, "orders", StageGeneration, 1)
	require.NoError(t, err)
	require.Len(t, base, 1)

	discovery, err := r.Retrieve(ctx, "orders", StageDiscovery, 1)
	require.NoError(t, err)
	require.Len(t, discovery, 1)

	validation, err := r.Retrieve(ctx, "orders", StageValidation, 1)
	require.NoError(t, err)
	require.Len(t, validation, 1)

	assert.InDelta(t, base[0].Score*1.5, discovery[0].Score, 0.001)
	assert.InDelta(t, base[0].Score*0.75, validation[0].Score, 0.001)
}

func TestRetrieve_NoMatchesReturnsEmpty(t *testing.T) {
	cache, _ := newReadyCache(t)
	r := NewRetriever(cache)

	docs, err := r.Retrieve(context.Background(), "zebra telescope nebula", StageGeneration, 5)
	require.NoError(t, err)
	assert.Empty(t, docs)

	// An empty retrieval set formats to empty text; the caller then
	// proceeds with static components only.
	assert.Equal(t, "", r.Format(docs))
}

func TestRetrieve_TopKLimitsResults(t *testing.T) {
	cache, _ := newReadyCache(t)
	r := NewRetriever(cache)

	// "id" is too short to be a term; use a query hitting all entities
	// via description words.
	docs, err := r.Retrieve(context.Background(), "customers orders inventory", StageGeneration, 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRetrieve_UninitializedCache(t *testing.T) {
	provider := datasource.NewMockProvider(testEntities())
	cache := NewEntityCache(provider, "test-db")
	r := NewRetriever(cache)

	_, err := r.Retrieve(context.Background(), "orders", StageGeneration, 5)
	assert.ErrorIs(t, err, ErrCacheNotInitialized)
}

func TestCache_SingleBulkFetch(t *testing.T) {
	cache, provider := newReadyCache(t)
	r := NewRetriever(cache)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := r.Retrieve(ctx, "orders customers", StageGeneration, 5)
		require.NoError(t, err)
	}

	// Retrieval amortizes against one bulk fetch per session.
	assert.Equal(t, 1, provider.ListCalls())
}

func TestCache_InitializeIdempotent(t *testing.T) {
	cache, provider := newReadyCache(t)

	require.NoError(t, cache.Initialize(context.Background()))
	require.NoError(t, cache.Initialize(context.Background()))
	assert.Equal(t, 1, provider.ListCalls())
	assert.Equal(t, 3, cache.Len())
}

func TestFormat_RespectsSubBudget(t *testing.T) {
	big := make([]datasource.Field, 0, 400)
	for i := 0; i < 400; i++ {
		big = append(big, datasource.Field{
			Name:        strings.Repeat("field", 4) + "_" + strings.Repeat("x", i%7),
			Type:        "string",
			Description: strings.Repeat("a long field description ", 10),
		})
	}
	entities := []datasource.Entity{
		{Name: "wide_orders", Description: "orders with many columns", Fields: big},
		{Name: "orders", Description: "order records", Fields: []datasource.Field{{Name: "id", Type: "int"}}},
	}
	provider := datasource.NewMockProvider(entities)
	cache := NewEntityCache(provider, "test-db")
	require.NoError(t, cache.Initialize(context.Background()))

	r := NewRetriever(cache, WithSubBudget(500))
	docs, err := r.Retrieve(context.Background(), "orders columns", StageGeneration, 5)
	require.NoError(t, err)

	text := r.Format(docs)
	got := len(text) / 3 // coarse lower bound on token estimate
	assert.Less(t, got, 1200, "formatted text should be bounded by the sub-budget")
}

func TestExtractTerms_FiltersStopWordsAndShortTokens(t *testing.T) {
	terms := extractTerms("Get all the orders for a customer, by ID!")
	assert.ElementsMatch(t, []string{"orders", "customer"}, terms)
}

func TestStageMultiplier(t *testing.T) {
	assert.Equal(t, 1.5, StageDiscovery.Multiplier())
	assert.Equal(t, 1.0, StageGeneration.Multiplier())
	assert.Equal(t, 0.75, StageValidation.Multiplier())
	assert.Equal(t, 1.0, StageRepair.Multiplier())
}
