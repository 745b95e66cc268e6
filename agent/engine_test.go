// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/queryforge/queryforge/agent/events"
	"github.com/queryforge/queryforge/agent/llm"
	"github.com/queryforge/queryforge/datasource"
	"github.com/queryforge/queryforge/pool"
	"github.com/queryforge/queryforge/retrieval"
)

func engineEntities() []datasource.Entity {
	return []datasource.Entity{
		{
			Name:        "orders",
			Description: "purchase orders",
			Fields: []datasource.Field{
				{Name: "id", Type: "int"},
				{Name: "total", Type: "decimal"},
				{Name: "placed_at", Type: "timestamp"},
			},
		},
		{
			Name:   "customers",
			Fields: []datasource.Field{{Name: "id", Type: "int"}, {Name: "name", Type: "string"}},
		},
	}
}

func testSession() *Session {
	return &Session{
		Goal:       "total value of all orders",
		ResourceID: "warehouse",
	}
}

func TestExecute_ToolLoopThenValidatedAnswer(t *testing.T) {
	provider := datasource.NewMockProvider(engineEntities())
	client := llm.NewMockClient(
		// Turn 1: the model explores the schema.
		&llm.Response{
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "describe_entity", Arguments: `{"entity": "orders"}`},
			},
			StopReason: "tool_calls",
		},
		// Turn 2: terminal answer with a fenced artifact.
		&llm.Response{
			Content:    "Here is the query:\n```sql\nSELECT total FROM orders\n```",
			StopReason: "stop",
			TokensIn:   120,
			TokensOut:  30,
		},
	)

	engine, err := NewEngine(client, provider, Options{})
	require.NoError(t, err)

	collector := events.NewCollector()
	engine.opts.Handlers = append(engine.opts.Handlers, collector.Handler())

	resp, err := engine.Execute(context.Background(), testSession())
	require.NoError(t, err)
	assert.Equal(t, "SELECT total FROM orders", resp.Artifact)
	assert.True(t, resp.Validated)
	assert.False(t, resp.Partial)
	assert.Equal(t, 2, resp.Iterations)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "describe_entity", resp.ToolCalls[0].ToolName)
	assert.True(t, resp.ToolCalls[0].Success)
	assert.Greater(t, resp.Quality, 0.7)
	assert.Equal(t, 120, resp.TokensIn)

	// Lifecycle events arrive in order with a completed terminal.
	collected := collector.Events()
	require.NotEmpty(t, collected)
	assert.Equal(t, events.TypeRunStarted, collected[0].Type)
	assert.Equal(t, events.TypeRunCompleted, collected[len(collected)-1].Type)
	assert.Len(t, collector.OfType(events.TypeToolCalled), 1)
	assert.Len(t, collector.OfType(events.TypeToolResult), 1)
}

func TestExecute_RepairsInvalidAnswer(t *testing.T) {
	provider := datasource.NewMockProvider(engineEntities())
	client := llm.NewMockClient(
		// Terminal answer referencing a nonexistent field.
		&llm.Response{
			Content:    "```sql\nSELECT discount FROM orders\n```",
			StopReason: "stop",
		},
		// The regeneration call returns a corrected artifact.
		&llm.Response{
			Content:    "```sql\nSELECT total FROM orders\n```",
			StopReason: "stop",
		},
	)

	engine, err := NewEngine(client, provider, Options{})
	require.NoError(t, err)

	collector := events.NewCollector()
	engine.opts.Handlers = append(engine.opts.Handlers, collector.Handler())

	resp, err := engine.Execute(context.Background(), testSession())
	require.NoError(t, err)
	assert.Equal(t, "SELECT total FROM orders", resp.Artifact)
	assert.True(t, resp.Validated)
	assert.Equal(t, 1, resp.RepairAttempts)
	assert.Len(t, collector.OfType(events.TypeRepairAttempted), 1)
}

func TestExecute_IterationBoundYieldsPartial(t *testing.T) {
	provider := datasource.NewMockProvider(engineEntities())

	// The model loops on discovery forever.
	responses := make([]*llm.Response, 0, 4)
	for i := 0; i < 4; i++ {
		responses = append(responses, &llm.Response{
			ToolCalls: []llm.ToolCall{
				{ID: "c", Name: "discover_entities", Arguments: `{}`},
			},
			StopReason: "tool_calls",
		})
	}
	client := llm.NewMockClient(responses...)

	engine, err := NewEngine(client, provider, Options{MaxIterations: 3})
	require.NoError(t, err)

	collector := events.NewCollector()
	engine.opts.Handlers = append(engine.opts.Handlers, collector.Handler())

	session := testSession()
	session.MaxIterations = 3
	resp, err := engine.Execute(context.Background(), session)
	require.NoError(t, err)
	assert.True(t, resp.Partial)
	assert.False(t, resp.Validated)
	assert.Equal(t, 3, resp.Iterations)
	assert.Len(t, resp.ToolCalls, 3)
	// Soft termination halves the score.
	assert.LessOrEqual(t, resp.Quality, 0.5)

	completed := collector.OfType(events.TypeRunCompleted)
	require.Len(t, completed, 1)
	data := completed[0].Data.(events.RunCompletedData)
	assert.True(t, data.Partial)
}

// blockingClient parks every completion until the context expires.
type blockingClient struct{}

func (b *blockingClient) Complete(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingClient) Name() string  { return "blocking" }
func (b *blockingClient) Model() string { return "blocking" }

func TestExecute_WallClockLimitYieldsPartial(t *testing.T) {
	provider := datasource.NewMockProvider(engineEntities())
	engine, err := NewEngine(&blockingClient{}, provider, Options{})
	require.NoError(t, err)

	collector := events.NewCollector()
	engine.opts.Handlers = append(engine.opts.Handlers, collector.Handler())

	session := testSession()
	session.WallClockLimit = 30 * time.Millisecond

	// The run's own deadline degrades to a partial response, not an
	// error to the caller.
	resp, err := engine.Execute(context.Background(), session)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Partial)
	assert.False(t, resp.Validated)

	completed := collector.OfType(events.TypeRunCompleted)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Data.(events.RunCompletedData).Partial)
	assert.Empty(t, collector.OfType(events.TypeRunFailed))
}

func TestExecute_ToolCallTurnPersistedInHistory(t *testing.T) {
	provider := datasource.NewMockProvider(engineEntities())
	client := llm.NewMockClient(
		&llm.Response{
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "describe_entity", Arguments: `{"entity": "orders"}`},
			},
			StopReason: "tool_calls",
		},
		&llm.Response{Content: "```sql\nSELECT id FROM orders\n```", StopReason: "stop"},
	)

	engine, err := NewEngine(client, provider, Options{})
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), testSession())
	require.NoError(t, err)

	// Turn 2 must carry the assistant turn that requested the call
	// before its tool result; the chat APIs reject the orphan.
	req := client.Request(1)
	require.NotNil(t, req)
	assistantIdx, toolIdx := -1, -1
	for i, m := range req.Messages {
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			assistantIdx = i
			assert.Equal(t, "c1", m.ToolCalls[0].ID)
			assert.Equal(t, "describe_entity", m.ToolCalls[0].Name)
		}
		if m.Role == llm.RoleTool && m.ToolCallID == "c1" {
			toolIdx = i
		}
	}
	require.GreaterOrEqual(t, assistantIdx, 0, "assistant tool-call turn missing from history")
	require.GreaterOrEqual(t, toolIdx, 0, "tool result missing from history")
	assert.Less(t, assistantIdx, toolIdx)
}

func TestExecute_RecordsRunCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	provider := datasource.NewMockProvider(engineEntities())
	client := llm.NewMockClient(
		&llm.Response{
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "discover_entities", Arguments: `{}`},
			},
			StopReason: "tool_calls",
		},
		&llm.Response{Content: "```sql\nSELECT id FROM orders\n```", StopReason: "stop"},
	)

	engine, err := NewEngine(client, provider, Options{})
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), testSession())
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	assert.GreaterOrEqual(t, sums["engine_iterations_total"], int64(2))
	assert.GreaterOrEqual(t, sums["engine_tool_calls_total"], int64(1))
}

func TestExecute_BackendFailureIsFatal(t *testing.T) {
	provider := datasource.NewMockProvider(engineEntities())
	client := llm.NewMockClient().FailWith(llm.ErrBackendUnavailable)

	engine, err := NewEngine(client, provider, Options{})
	require.NoError(t, err)

	collector := events.NewCollector()
	engine.opts.Handlers = append(engine.opts.Handlers, collector.Handler())

	_, err = engine.Execute(context.Background(), testSession())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLLMFailed)
	assert.Len(t, collector.OfType(events.TypeRunFailed), 1)
}

func TestExecute_EmptyResponseRetriedOnce(t *testing.T) {
	provider := datasource.NewMockProvider(engineEntities())
	client := llm.NewMockClient(
		nil, // paired with ErrEmptyResponse below
		&llm.Response{Content: "```sql\nSELECT id FROM orders\n```", StopReason: "stop"},
	).FailWith(llm.ErrEmptyResponse)

	engine, err := NewEngine(client, provider, Options{})
	require.NoError(t, err)

	resp, err := engine.Execute(context.Background(), testSession())
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM orders", resp.Artifact)
	// Two completions in the same turn: the empty one plus the retry.
	assert.Equal(t, 2, client.Calls())
}

func TestExecute_ToolFailureIsObservationNotError(t *testing.T) {
	provider := datasource.NewMockProvider(engineEntities())
	client := llm.NewMockClient(
		&llm.Response{
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "describe_entity", Arguments: `{"entity": "shipments"}`},
			},
			StopReason: "tool_calls",
		},
		&llm.Response{Content: "```sql\nSELECT id FROM orders\n```", StopReason: "stop"},
	)

	engine, err := NewEngine(client, provider, Options{})
	require.NoError(t, err)

	resp, err := engine.Execute(context.Background(), testSession())
	require.NoError(t, err)
	assert.True(t, resp.Validated)
	require.Len(t, resp.ToolCalls, 1)
	assert.False(t, resp.ToolCalls[0].Success)

	// The failed observation was fed back to the model.
	req := client.Request(1)
	require.NotNil(t, req)
	found := false
	for _, m := range req.Messages {
		if m.Role == llm.RoleTool && m.Name == "describe_entity" {
			found = true
			assert.Contains(t, m.Content, "shipments")
		}
	}
	assert.True(t, found, "tool failure should appear in the next prompt")
}

func TestExecute_InvalidSession(t *testing.T) {
	provider := datasource.NewMockProvider(engineEntities())
	engine, err := NewEngine(llm.NewMockClient(), provider, Options{})
	require.NoError(t, err)

	cases := []*Session{
		nil,
		{Goal: "", ResourceID: "warehouse"},
		{Goal: "do something", ResourceID: ""},
		{Goal: "do something", ResourceID: "warehouse", ComplexityHint: "extreme"},
	}
	for _, session := range cases {
		_, err := engine.Execute(context.Background(), session)
		assert.ErrorIs(t, err, ErrInvalidSession)
	}
}

func TestExecute_CanceledContext(t *testing.T) {
	provider := datasource.NewMockProvider(engineEntities())
	engine, err := NewEngine(llm.NewMockClient(), provider, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.Execute(ctx, testSession())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunCanceled) || errors.Is(err, context.Canceled))
}

func TestSplitArtifact(t *testing.T) {
	artifact, reasoning := splitArtifact("Explanation first.\n```sql\nSELECT 1\n```\nAnd after.")
	assert.Equal(t, "SELECT 1", artifact)
	assert.Contains(t, reasoning, "Explanation first.")
	assert.Contains(t, reasoning, "And after.")

	artifact, reasoning = splitArtifact("SELECT 1")
	assert.Equal(t, "SELECT 1", artifact)
	assert.Empty(t, reasoning)
}

func TestNextStage(t *testing.T) {
	assert.Equal(t, retrieval.StageDiscovery, nextStage(pool.ContextMemory{}, retrieval.StageGeneration))
	assert.Equal(t, retrieval.StageGeneration, nextStage(pool.ContextMemory{SchemaAvailable: true}, retrieval.StageDiscovery))
	assert.Equal(t, retrieval.StageValidation, nextStage(pool.ContextMemory{
		SchemaAvailable: true,
		HasArtifact:     true,
	}, retrieval.StageGeneration))
	assert.Equal(t, retrieval.StageRepair, nextStage(pool.ContextMemory{
		SchemaAvailable:  true,
		HasArtifact:      true,
		ErrorCount:       1,
		ValidationPassed: false,
	}, retrieval.StageValidation))
}

func TestScoreQuality(t *testing.T) {
	full := scoreQuality(qualityInputs{
		hasArtifact:      true,
		validationPassed: true,
		iterations:       1,
		maxIterations:    10,
		toolCalls:        2,
		toolSuccesses:    2,
	})
	assert.InDelta(t, 1.0, full, 0.001)

	partial := scoreQuality(qualityInputs{
		hasArtifact:   true,
		iterations:    10,
		maxIterations: 10,
		partial:       true,
	})
	assert.LessOrEqual(t, partial, 0.5)

	nothing := scoreQuality(qualityInputs{partial: true})
	assert.LessOrEqual(t, nothing, 0.1)
}
