// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_SequenceIsDenseAndOrdered(t *testing.T) {
	emitter := NewEmitter("run-1", "session-1")
	collector := NewCollector()
	emitter.Subscribe(collector.Handler())

	emitter.Emit(TypeRunStarted, "discovery", RunStartedData{Goal: "g"})
	emitter.Emit(TypeIterationProgress, "generation", IterationProgressData{Iteration: 1})
	emitter.Emit(TypeRunCompleted, "generation", RunCompletedData{Iterations: 1})

	collected := collector.Events()
	require.Len(t, collected, 3)
	for i, event := range collected {
		assert.Equal(t, uint64(i+1), event.Seq)
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, "session-1", event.SessionID)
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	}
	assert.Equal(t, TypeRunStarted, collected[0].Type)
	assert.Equal(t, TypeRunCompleted, collected[2].Type)
}

func TestEmitter_ConcurrentEmitsStayDense(t *testing.T) {
	emitter := NewEmitter("run-2", "session-2")
	collector := NewCollector()
	emitter.Subscribe(collector.Handler())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emitter.Emit(TypeIterationProgress, "generation", nil)
		}()
	}
	wg.Wait()

	collected := collector.Events()
	require.Len(t, collected, 50)
	seen := make(map[uint64]bool, 50)
	for _, event := range collected {
		seen[event.Seq] = true
	}
	for seq := uint64(1); seq <= 50; seq++ {
		assert.True(t, seen[seq], "missing seq %d", seq)
	}
}

func TestEmitter_HandlersRunInRegistrationOrder(t *testing.T) {
	emitter := NewEmitter("run-3", "session-3")

	var order []string
	emitter.Subscribe(func(*Event) { order = append(order, "first") })
	emitter.Subscribe(func(*Event) { order = append(order, "second") })

	emitter.Emit(TypeRunStarted, "", nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEmitter_NilHandlerIgnored(t *testing.T) {
	emitter := NewEmitter("run-4", "session-4")
	emitter.Subscribe(nil)
	// Must not panic.
	emitter.Emit(TypeRunStarted, "", nil)
}

func TestJournal_AppendAndReplay(t *testing.T) {
	journal, err := OpenJournal("", nil)
	require.NoError(t, err)
	defer journal.Close()

	emitter := NewEmitter("run-5", "session-5")
	emitter.Subscribe(journal.Handler())

	emitter.Emit(TypeRunStarted, "discovery", RunStartedData{Goal: "g"})
	emitter.Emit(TypeToolCalled, "discovery", ToolCalledData{ToolName: "discover_entities"})
	emitter.Emit(TypeRunCompleted, "generation", RunCompletedData{Iterations: 2})

	replayed, err := journal.ReadRun("run-5")
	require.NoError(t, err)
	require.Len(t, replayed, 3)
	assert.Equal(t, TypeRunStarted, replayed[0].Type)
	assert.Equal(t, TypeToolCalled, replayed[1].Type)
	assert.Equal(t, TypeRunCompleted, replayed[2].Type)
	for i, event := range replayed {
		assert.Equal(t, uint64(i+1), event.Seq)
	}
}

func TestJournal_RunsAreIsolated(t *testing.T) {
	journal, err := OpenJournal("", nil)
	require.NoError(t, err)
	defer journal.Close()

	a := NewEmitter("run-a", "session-a")
	a.Subscribe(journal.Handler())
	b := NewEmitter("run-b", "session-b")
	b.Subscribe(journal.Handler())

	a.Emit(TypeRunStarted, "", nil)
	b.Emit(TypeRunStarted, "", nil)
	a.Emit(TypeRunCompleted, "", nil)

	eventsA, err := journal.ReadRun("run-a")
	require.NoError(t, err)
	assert.Len(t, eventsA, 2)

	eventsB, err := journal.ReadRun("run-b")
	require.NoError(t, err)
	assert.Len(t, eventsB, 1)
}

func TestJournal_ReadUnknownRun(t *testing.T) {
	journal, err := OpenJournal("", nil)
	require.NoError(t, err)
	defer journal.Close()

	replayed, err := journal.ReadRun("missing")
	require.NoError(t, err)
	assert.Empty(t, replayed)
}
