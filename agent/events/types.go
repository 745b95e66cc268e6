// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events defines the run lifecycle event stream: typed
// payloads, a synchronous in-order emitter, and handlers for logging
// and durable journaling.
package events

import "time"

// Type classifies a lifecycle event.
type Type string

const (
	// TypeRunStarted fires once when a run begins.
	TypeRunStarted Type = "run_started"

	// TypeIterationProgress fires at the top of each loop iteration.
	TypeIterationProgress Type = "iteration_progress"

	// TypeToolCalled fires when a tool invocation is dispatched.
	TypeToolCalled Type = "tool_called"

	// TypeToolResult fires when a tool invocation completes.
	TypeToolResult Type = "tool_result"

	// TypeRepairAttempted fires when the repair controller runs.
	TypeRepairAttempted Type = "repair_attempted"

	// TypeRunCompleted fires once on successful completion.
	TypeRunCompleted Type = "run_completed"

	// TypeRunFailed fires once on terminal failure.
	TypeRunFailed Type = "run_failed"
)

// Event is one entry in a run's lifecycle stream. Seq is dense and
// strictly increasing per emitter, so journals replay in order.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Type is the event classification.
	Type Type `json:"type"`

	// RunID identifies the run.
	RunID string `json:"run_id"`

	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`

	// Stage is the run stage at emission time.
	Stage string `json:"stage,omitempty"`

	// Seq is the emitter-assigned sequence number, starting at 1.
	Seq uint64 `json:"seq"`

	// Timestamp is the emission time.
	Timestamp time.Time `json:"timestamp"`

	// Data is the typed payload; its concrete type follows Type.
	Data any `json:"data,omitempty"`
}

// RunStartedData accompanies TypeRunStarted.
type RunStartedData struct {
	Goal          string `json:"goal"`
	ResourceID    string `json:"resource_id"`
	MaxIterations int    `json:"max_iterations"`
	Model         string `json:"model"`
}

// IterationProgressData accompanies TypeIterationProgress.
type IterationProgressData struct {
	Iteration     int `json:"iteration"`
	MaxIterations int `json:"max_iterations"`
	TokenEstimate int `json:"token_estimate"`
}

// ToolCalledData accompanies TypeToolCalled.
type ToolCalledData struct {
	InvocationID string `json:"invocation_id"`
	ToolName     string `json:"tool_name"`
	Iteration    int    `json:"iteration"`
}

// ToolResultData accompanies TypeToolResult.
type ToolResultData struct {
	InvocationID string        `json:"invocation_id"`
	ToolName     string        `json:"tool_name"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// RepairAttemptedData accompanies TypeRepairAttempted.
type RepairAttemptedData struct {
	Attempt   int    `json:"attempt"`
	ErrorType string `json:"error_type"`
	State     string `json:"state"`
}

// RunCompletedData accompanies TypeRunCompleted.
type RunCompletedData struct {
	Iterations    int     `json:"iterations"`
	ToolCallCount int     `json:"tool_call_count"`
	Quality       float64 `json:"quality"`
	Partial       bool    `json:"partial"`
}

// RunFailedData accompanies TypeRunFailed.
type RunFailedData struct {
	Reason    string `json:"reason"`
	Iteration int    `json:"iteration"`
}
