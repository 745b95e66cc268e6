// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds parallel tool calls within a turn, keeping
// downstream load predictable.
const DefaultConcurrency = 2

// Dispatched pairs an invocation with its outcome.
type Dispatched struct {
	// Invocation is the executed call.
	Invocation *Invocation

	// Result is nil only when Err is non-nil.
	Result *Result

	// Err is an executor-level failure (unknown tool, bad parameters,
	// timeout). Tool-level failures live in Result instead.
	Err error
}

// Dispatcher runs the independent tool calls of one turn with bounded
// concurrency.
//
// Fairness: goroutines acquire the semaphore in FIFO order of their
// Acquire calls; beyond that no ordering guarantee is made across
// queued calls. Results are appended in completion order, always
// causally after the request that produced them.
//
// Thread Safety: Dispatcher is safe for concurrent use.
type Dispatcher struct {
	executor *Executor
	limit    int64
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over an executor.
//
// Inputs:
//
//	executor - The single-call executor.
//	limit - Maximum concurrent calls; values < 1 fall back to
//	        DefaultConcurrency.
func NewDispatcher(executor *Executor, limit int) *Dispatcher {
	if limit < 1 {
		limit = DefaultConcurrency
	}
	return &Dispatcher{
		executor: executor,
		limit:    int64(limit),
		logger:   executor.options.Logger,
	}
}

// Dispatch executes the invocations with bounded concurrency.
//
// Description:
//
//	Each invocation runs through the executor under a weighted semaphore
//	of the configured limit. The returned slice is ordered by completion,
//	not by request order. Context cancellation stops the dispatch of
//	not-yet-started calls; calls already running honor their own
//	timeouts.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	invocations - Independent calls of one turn.
//
// Outputs:
//
//	[]Dispatched - One entry per invocation that was started, in
//	               completion order.
//
// Thread Safety: This method is safe for concurrent use.
func (d *Dispatcher) Dispatch(ctx context.Context, invocations []*Invocation) []Dispatched {
	if len(invocations) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(d.limit)
	results := make([]Dispatched, 0, len(invocations))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, inv := range invocations {
		if err := sem.Acquire(ctx, 1); err != nil {
			d.logger.Warn("tool dispatch canceled", "tool", inv.ToolName, "error", err)
			mu.Lock()
			results = append(results, Dispatched{Invocation: inv, Err: err})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(inv *Invocation) {
			defer wg.Done()
			defer sem.Release(1)

			result, err := d.executor.Execute(ctx, inv)

			mu.Lock()
			results = append(results, Dispatched{Invocation: inv, Result: result, Err: err})
			mu.Unlock()
		}(inv)
	}

	wg.Wait()
	return results
}
