// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent contains the recursive generation engine: the
// orchestrator loop that alternates model calls with tool execution
// until a validated artifact emerges or the iteration bound is hit.
package agent

import (
	"time"

	"github.com/queryforge/queryforge/retrieval"
)

// Session is one user request handed to the engine.
type Session struct {
	// ID identifies the session. Assigned if empty.
	ID string `json:"id"`

	// Goal is the natural-language objective.
	Goal string `json:"goal" validate:"required,min=3"`

	// Stage is the starting run stage. Defaults to discovery.
	Stage retrieval.Stage `json:"stage,omitempty"`

	// ComplexityHint lets callers scale iteration limits ("low",
	// "medium", "high"). Optional.
	ComplexityHint string `json:"complexity_hint,omitempty" validate:"omitempty,oneof=low medium high"`

	// TaskContext is opaque caller-supplied context injected into the
	// system prompt.
	TaskContext string `json:"task_context,omitempty"`

	// ResourceID names the datasource this run targets.
	ResourceID string `json:"resource_id" validate:"required"`

	// MaxIterations bounds loop turns. Zero uses the engine default.
	MaxIterations int `json:"max_iterations,omitempty" validate:"omitempty,min=1,max=100"`

	// Constraints are hard requirements appended to the system prompt.
	Constraints []string `json:"constraints,omitempty"`

	// WallClockLimit bounds the run's total duration. Zero uses the
	// engine default.
	WallClockLimit time.Duration `json:"wall_clock_limit,omitempty"`
}

// ToolCallRecord is one executed tool call, kept for the response.
type ToolCallRecord struct {
	// InvocationID links to the invocation.
	InvocationID string `json:"invocation_id"`

	// ToolName is the tool that ran.
	ToolName string `json:"tool_name"`

	// Iteration is the loop turn the call ran in.
	Iteration int `json:"iteration"`

	// Success mirrors the tool result.
	Success bool `json:"success"`

	// Duration is the execution time.
	Duration time.Duration `json:"duration"`
}

// Response is the engine's final output for a session.
type Response struct {
	// RunID identifies the run that produced this response.
	RunID string `json:"run_id"`

	// Artifact is the generated artifact text. May be empty on a
	// partial response.
	Artifact string `json:"artifact"`

	// Reasoning is the model's final explanatory text.
	Reasoning string `json:"reasoning,omitempty"`

	// Quality is the heuristic confidence score in [0, 1].
	Quality float64 `json:"quality"`

	// Partial marks responses produced by a soft termination (iteration
	// or wall-clock bound) rather than a model-declared finish.
	Partial bool `json:"partial"`

	// Validated reports whether the artifact passed its final check.
	Validated bool `json:"validated"`

	// Iterations is the number of loop turns consumed.
	Iterations int `json:"iterations"`

	// ToolCalls records every tool execution in order.
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`

	// RepairAttempts counts regenerations the repair controller ran.
	RepairAttempts int `json:"repair_attempts"`

	// DroppedComponents counts history messages cut by the composer
	// across the run, surfaced for budget observability.
	DroppedComponents int `json:"dropped_components"`

	// TokensIn and TokensOut aggregate backend-reported usage.
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`

	// Duration is the wall-clock run time.
	Duration time.Duration `json:"duration"`
}
