// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRegen returns canned replacements in order.
type scriptedRegen struct {
	replacements []string
	calls        int
	contexts     []RetryContext
}

func (s *scriptedRegen) Regenerate(_ context.Context, rc RetryContext) (string, error) {
	s.contexts = append(s.contexts, rc)
	if s.calls >= len(s.replacements) {
		return rc.Artifact, nil
	}
	out := s.replacements[s.calls]
	s.calls++
	return out, nil
}

// alwaysValid passes everything.
func alwaysValid(context.Context, string) (bool, string, error) {
	return true, "", nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		message string
		want    ErrorType
	}{
		{"syntax error: query must start with SELECT", ErrorSyntax},
		{"unexpected token near WHERE", ErrorSyntax},
		{"entity not found: shipments", ErrorEntityNotFound},
		{"no such table: shipments", ErrorEntityNotFound},
		{"unknown field discount on entity orders", ErrorFieldNotFound},
		{"no such column: discount", ErrorFieldNotFound},
		{"connection refused", ErrorConnection},
		{"request timed out after 30s", ErrorConnection},
		{"permission denied for table orders", ErrorPermission},
		{"401 unauthorized", ErrorPermission},
		{"type mismatch: cannot compare string to int", ErrorTypeMismatch},
		{"something inexplicable happened", ErrorUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.message), "message: %s", tc.message)
	}
}

func TestClassify_FieldBeatsEntityWhenBothMentioned(t *testing.T) {
	// The message names both a field and an entity; the narrower
	// category wins so the guidance points at describe_entity.
	got := Classify("unknown field discount on entity orders")
	assert.Equal(t, ErrorFieldNotFound, got)
}

func TestGuidance_FieldNotFoundNamesDescribeEntity(t *testing.T) {
	text := Guidance(ErrorFieldNotFound)
	assert.Contains(t, text, "describe_entity")
}

func TestRepair_ValidArtifactPassesWithoutRetry(t *testing.T) {
	c, err := NewController(alwaysValid, nil, nil)
	require.NoError(t, err)

	outcome, err := c.Repair(context.Background(), "SELECT id FROM orders", false)
	require.NoError(t, err)
	assert.Equal(t, StateValidated, outcome.State)
	assert.Zero(t, outcome.Attempts)
	assert.False(t, outcome.ExecutionChecked)
}

func TestRepair_RegeneratesOnceThenSucceeds(t *testing.T) {
	validate := func(_ context.Context, artifact string) (bool, string, error) {
		if strings.Contains(artifact, "discount") {
			return false, "unknown field discount on entity orders", nil
		}
		return true, "", nil
	}
	regen := &scriptedRegen{replacements: []string{"SELECT total FROM orders"}}

	c, err := NewController(validate, nil, regen)
	require.NoError(t, err)

	outcome, err := c.Repair(context.Background(), "SELECT discount FROM orders", false)
	require.NoError(t, err)
	assert.Equal(t, StateValidated, outcome.State)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, "SELECT total FROM orders", outcome.Artifact)
	assert.Equal(t, ErrorFieldNotFound, outcome.ErrorType)

	// The retry context fed to the regenerator carries the guidance.
	require.Len(t, regen.contexts, 1)
	assert.Contains(t, regen.contexts[0].Guidance, "describe_entity")
	assert.Equal(t, 1, regen.contexts[0].RetryCount)
}

func TestRepair_RetryBoundAbsorbsInFailed(t *testing.T) {
	validate := func(context.Context, string) (bool, string, error) {
		return false, "syntax error: unbalanced parentheses", nil
	}
	regen := &scriptedRegen{replacements: []string{"still (broken", "also (broken"}}

	c, err := NewController(validate, nil, regen, WithMaxRetries(1))
	require.NoError(t, err)

	outcome, err := c.Repair(context.Background(), "(broken", false)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, 1, outcome.Attempts)
	assert.ErrorIs(t, outcome.FinalError, ErrRetriesExhausted)
	// Exactly maxRetries regenerations ran.
	assert.Equal(t, 1, regen.calls)
}

func TestRepair_NonRetryableFailsImmediately(t *testing.T) {
	validate := func(context.Context, string) (bool, string, error) {
		return false, "connection refused", nil
	}
	regen := &scriptedRegen{replacements: []string{"unused"}}

	c, err := NewController(validate, nil, regen)
	require.NoError(t, err)

	outcome, err := c.Repair(context.Background(), "SELECT 1", false)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.ErrorIs(t, outcome.FinalError, ErrNotRetryable)
	assert.Zero(t, regen.calls)
}

func TestRepair_CleanValidationNeverExecutes(t *testing.T) {
	execCalls := 0
	execute := func(context.Context, string) (bool, string, error) {
		execCalls++
		return true, "", nil
	}

	c, err := NewController(alwaysValid, execute, nil)
	require.NoError(t, err)

	outcome, err := c.Repair(context.Background(), "SELECT id FROM orders", true)
	require.NoError(t, err)
	// The majority path is static-only: no live check without a failure.
	assert.Equal(t, StateValidated, outcome.State)
	assert.Zero(t, outcome.Attempts)
	assert.Zero(t, execCalls)
	assert.False(t, outcome.ExecutionChecked)
}

func TestRepair_RegeneratedArtifactGetsLiveCheck(t *testing.T) {
	validate := func(_ context.Context, artifact string) (bool, string, error) {
		if strings.Contains(artifact, "discount") {
			return false, "unknown field discount on entity orders", nil
		}
		return true, "", nil
	}
	var executed []string
	execute := func(_ context.Context, artifact string) (bool, string, error) {
		executed = append(executed, artifact)
		return true, "", nil
	}
	regen := &scriptedRegen{replacements: []string{"SELECT total FROM orders"}}

	c, err := NewController(validate, execute, regen)
	require.NoError(t, err)

	outcome, err := c.Repair(context.Background(), "SELECT discount FROM orders", true)
	require.NoError(t, err)
	// A passing live check terminates back in VALIDATED, and the check
	// ran against the regenerated artifact, not the original.
	assert.Equal(t, StateValidated, outcome.State)
	assert.Equal(t, 1, outcome.Attempts)
	assert.True(t, outcome.ExecutionChecked)
	assert.Equal(t, []string{"SELECT total FROM orders"}, executed)
}

func TestRepair_LiveCheckFailureExhaustsRetries(t *testing.T) {
	validate := func(_ context.Context, artifact string) (bool, string, error) {
		if strings.Contains(artifact, "v1") {
			return false, "unknown field v1 on entity orders", nil
		}
		return true, "", nil
	}
	execCalls := 0
	execute := func(context.Context, string) (bool, string, error) {
		execCalls++
		return false, "unknown field v2 on entity orders", nil
	}
	regen := &scriptedRegen{replacements: []string{"SELECT v2 FROM orders"}}

	c, err := NewController(validate, execute, regen, WithMaxRetries(1))
	require.NoError(t, err)

	outcome, err := c.Repair(context.Background(), "SELECT v1 FROM orders", true)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.ErrorIs(t, outcome.FinalError, ErrRetriesExhausted)
	assert.Equal(t, 1, execCalls)
}

func TestRepair_OneLiveCheckAcrossRetries(t *testing.T) {
	validate := func(_ context.Context, artifact string) (bool, string, error) {
		if strings.Contains(artifact, "v1") {
			return false, "unknown field v1 on entity orders", nil
		}
		return true, "", nil
	}
	execCalls := 0
	execute := func(context.Context, string) (bool, string, error) {
		execCalls++
		return false, "unknown field v2 on entity orders", nil
	}
	regen := &scriptedRegen{replacements: []string{"SELECT v2 FROM orders", "SELECT v3 FROM orders"}}

	c, err := NewController(validate, execute, regen, WithMaxRetries(2))
	require.NoError(t, err)

	outcome, err := c.Repair(context.Background(), "SELECT v1 FROM orders", true)
	require.NoError(t, err)
	// The second regeneration revalidates but does not buy a second
	// live check.
	assert.Equal(t, StateValidated, outcome.State)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, 1, execCalls)
	assert.Equal(t, "SELECT v3 FROM orders", outcome.Artifact)
}

func TestRepair_ExecutionDisabled(t *testing.T) {
	execCalls := 0
	execute := func(context.Context, string) (bool, string, error) {
		execCalls++
		return true, "", nil
	}

	c, err := NewController(alwaysValid, execute, nil)
	require.NoError(t, err)

	outcome, err := c.Repair(context.Background(), "SELECT 1", false)
	require.NoError(t, err)
	assert.Equal(t, StateValidated, outcome.State)
	assert.Zero(t, execCalls)
}

func TestRepair_NoRegeneratorFails(t *testing.T) {
	validate := func(context.Context, string) (bool, string, error) {
		return false, "syntax error", nil
	}

	c, err := NewController(validate, nil, nil)
	require.NoError(t, err)

	outcome, err := c.Repair(context.Background(), "bad", false)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	require.Error(t, outcome.FinalError)
}

func TestTransitions_FailedIsAbsorbing(t *testing.T) {
	assert.Empty(t, transitions[StateFailed])
	for _, to := range []State{StateGenerated, StateValidated, StateRepaired, StateExecutionAttempted} {
		assert.False(t, canTransition(StateFailed, to))
	}
}

func TestNewController_RequiresValidator(t *testing.T) {
	_, err := NewController(nil, nil, nil)
	assert.Error(t, err)
}
