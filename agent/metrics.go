// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("queryforge.agent")

// Metrics for engine runs.
var (
	iterationsTotal     metric.Int64Counter
	toolCallsTotal      metric.Int64Counter
	repairAttemptsTotal metric.Int64Counter
	droppedTotal        metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the engine counters. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		iterationsTotal, err = meter.Int64Counter(
			"engine_iterations_total",
			metric.WithDescription("Model-call iterations executed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		toolCallsTotal, err = meter.Int64Counter(
			"engine_tool_calls_total",
			metric.WithDescription("Tool invocations dispatched"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		repairAttemptsTotal, err = meter.Int64Counter(
			"engine_repair_attempts_total",
			metric.WithDescription("Artifact regeneration attempts"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		droppedTotal, err = meter.Int64Counter(
			"engine_dropped_components_total",
			metric.WithDescription("Context components and history turns cut for token budget"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordIteration counts one model-call iteration.
func recordIteration(ctx context.Context, stage string) {
	if err := initMetrics(); err != nil {
		return
	}
	iterationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// recordToolCall counts one dispatched tool invocation.
func recordToolCall(ctx context.Context, tool string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	toolCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	))
}

// recordRepairAttempts counts regeneration attempts for one terminal answer.
func recordRepairAttempts(ctx context.Context, attempts int, errorType string) {
	if attempts == 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	repairAttemptsTotal.Add(ctx, int64(attempts),
		metric.WithAttributes(attribute.String("error_type", errorType)))
}

// recordDropped counts prompt components cut by the composer.
func recordDropped(ctx context.Context, dropped int) {
	if dropped == 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	droppedTotal.Add(ctx, int64(dropped))
}
