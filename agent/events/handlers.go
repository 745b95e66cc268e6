// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"log/slog"
	"sync"
)

// LoggingHandler returns a handler that mirrors the event stream onto
// a structured logger.
func LoggingHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(event *Event) {
		attrs := []any{
			"run_id", event.RunID,
			"seq", event.Seq,
		}
		if event.Stage != "" {
			attrs = append(attrs, "stage", event.Stage)
		}

		switch data := event.Data.(type) {
		case RunStartedData:
			logger.Info("run started", append(attrs,
				"goal", data.Goal,
				"resource_id", data.ResourceID,
				"model", data.Model,
			)...)
		case IterationProgressData:
			logger.Debug("iteration progress", append(attrs,
				"iteration", data.Iteration,
				"max_iterations", data.MaxIterations,
				"token_estimate", data.TokenEstimate,
			)...)
		case ToolCalledData:
			logger.Info("tool called", append(attrs,
				"tool", data.ToolName,
				"invocation_id", data.InvocationID,
			)...)
		case ToolResultData:
			if data.Success {
				logger.Info("tool result", append(attrs,
					"tool", data.ToolName,
					"duration", data.Duration,
				)...)
			} else {
				logger.Warn("tool result", append(attrs,
					"tool", data.ToolName,
					"error", data.Error,
					"duration", data.Duration,
				)...)
			}
		case RepairAttemptedData:
			logger.Warn("repair attempted", append(attrs,
				"attempt", data.Attempt,
				"error_type", data.ErrorType,
				"state", data.State,
			)...)
		case RunCompletedData:
			logger.Info("run completed", append(attrs,
				"iterations", data.Iterations,
				"tool_calls", data.ToolCallCount,
				"quality", data.Quality,
				"partial", data.Partial,
			)...)
		case RunFailedData:
			logger.Error("run failed", append(attrs,
				"reason", data.Reason,
				"iteration", data.Iteration,
			)...)
		default:
			logger.Debug(string(event.Type), attrs...)
		}
	}
}

// Collector records every event it receives. Test helper.
type Collector struct {
	mu     sync.Mutex
	events []*Event
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Handler returns the collecting handler.
func (c *Collector) Handler() Handler {
	return func(event *Event) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, event)
	}
}

// Events returns a snapshot of the collected events.
func (c *Collector) Events() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfType returns collected events matching the given type.
func (c *Collector) OfType(t Type) []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
