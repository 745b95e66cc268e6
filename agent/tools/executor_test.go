// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Execute(t *testing.T) {
	registry := NewRegistry()
	registry.Register(newMockTool("echo", CategoryAnalyze))
	executor := NewExecutor(registry, nil)

	result, err := executor.Execute(context.Background(), &Invocation{
		ToolName:   "echo",
		Parameters: map[string]any{},
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Output)
}

func TestExecutor_AssignsInvocationID(t *testing.T) {
	registry := NewRegistry()
	registry.Register(newMockTool("echo", CategoryAnalyze))
	executor := NewExecutor(registry, nil)

	inv := &Invocation{ToolName: "echo"}
	_, err := executor.Execute(context.Background(), inv)

	require.NoError(t, err)
	assert.NotEmpty(t, inv.ID)
	assert.NotNil(t, inv.Result)
}

func TestExecutor_ToolNotFound(t *testing.T) {
	executor := NewExecutor(NewRegistry(), nil)

	_, err := executor.Execute(context.Background(), &Invocation{ToolName: "nope"})
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestExecutor_RequiredParamMissing(t *testing.T) {
	registry := NewRegistry()
	tool := newMockTool("describe_entity", CategoryDiscover)
	tool.def.Parameters = map[string]Param{
		"entity": {Type: "string", Description: "entity name", Required: true},
	}
	registry.Register(tool)
	executor := NewExecutor(registry, nil)

	_, err := executor.Execute(context.Background(), &Invocation{
		ToolName:   "describe_entity",
		Parameters: map[string]any{},
	})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = executor.Execute(context.Background(), &Invocation{
		ToolName:   "describe_entity",
		Parameters: map[string]any{"entity": ""},
	})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestExecutor_Timeout(t *testing.T) {
	registry := NewRegistry()
	slow := newSlowTool("slow", time.Second)
	slow.def.Timeout = 20 * time.Millisecond
	registry.Register(slow)
	executor := NewExecutor(registry, nil)

	_, err := executor.Execute(context.Background(), &Invocation{ToolName: "slow"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecutor_ToolFailureBecomesObservation(t *testing.T) {
	registry := NewRegistry()
	failing := newMockTool("flaky", CategoryExecute)
	failing.execute = func(ctx context.Context, params map[string]any) (*Result, error) {
		return nil, errors.New("connection refused")
	}
	registry.Register(failing)
	executor := NewExecutor(registry, nil)

	result, err := executor.Execute(context.Background(), &Invocation{ToolName: "flaky"})

	require.NoError(t, err, "tool-level failure must not be an executor error")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "connection refused")
}

func TestExecutor_PanickingToolBecomesFailedResult(t *testing.T) {
	registry := NewRegistry()
	panicking := newMockTool("boom", CategoryExecute)
	panicking.execute = func(ctx context.Context, params map[string]any) (*Result, error) {
		panic("index out of range")
	}
	registry.Register(panicking)
	executor := NewExecutor(registry, nil)

	result, err := executor.Execute(context.Background(), &Invocation{ToolName: "boom"})

	require.NoError(t, err, "a panicking tool must not take down the run")
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "index out of range")
}

func TestExecutor_NilResultBecomesFailedResult(t *testing.T) {
	registry := NewRegistry()
	empty := newMockTool("empty", CategoryExecute)
	empty.execute = func(ctx context.Context, params map[string]any) (*Result, error) {
		return nil, nil
	}
	registry.Register(empty)
	executor := NewExecutor(registry, nil)

	result, err := executor.Execute(context.Background(), &Invocation{ToolName: "empty"})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
}

func TestExecutor_NilInvocation(t *testing.T) {
	executor := NewExecutor(NewRegistry(), nil)
	_, err := executor.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrValidationFailed)
}
