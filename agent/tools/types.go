// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools provides the uniform invocation surface for all domain
// tools the model may call.
//
// Tools are a closed set of variants behind one capability interface,
// resolved through a registry keyed by name at construction time. Any
// request-scoped secret or connection configuration is bound when a
// tool is constructed, never passed as a model-visible argument.
package tools

import (
	"context"
	"time"
)

// Category tags a tool's capability.
type Category string

const (
	// CategoryDiscover tools enumerate datasource entities.
	CategoryDiscover Category = "discover"

	// CategoryValidate tools perform static artifact checks.
	CategoryValidate Category = "validate"

	// CategoryExecute tools run artifacts against live systems.
	CategoryExecute Category = "execute"

	// CategoryAnalyze tools summarize or inspect results.
	CategoryAnalyze Category = "analyze"

	// CategoryGenerate tools assist artifact generation.
	CategoryGenerate Category = "generate"
)

// Param describes one input parameter of a tool.
type Param struct {
	// Type is the JSON type of the parameter (string, number, boolean).
	Type string `json:"type"`

	// Description tells the model what the parameter means.
	Description string `json:"description"`

	// Required marks parameters that must be present.
	Required bool `json:"required"`
}

// Definition is the model-visible description of a tool.
type Definition struct {
	// Name is the tool's unique name.
	Name string `json:"name"`

	// Description tells the model when to use the tool.
	Description string `json:"description"`

	// Category is the tool's capability tag.
	Category Category `json:"category"`

	// Parameters describes the tool's input schema by parameter name.
	Parameters map[string]Param `json:"parameters"`

	// Timeout overrides the executor's default per-call timeout when > 0.
	Timeout time.Duration `json:"-"`

	// SideEffects marks tools whose calls touch live systems.
	SideEffects bool `json:"-"`
}

// Tool is the capability interface every domain tool implements.
type Tool interface {
	// Name returns the tool's unique name.
	Name() string

	// Category returns the tool's capability tag.
	Category() Category

	// Definition returns the model-visible description.
	Definition() Definition

	// Execute runs the tool with validated parameters.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the uniform outcome of a tool execution.
type Result struct {
	// Success indicates whether the tool achieved its purpose. A false
	// Success with an Error message is an observation for the model,
	// not a failure of the engine.
	Success bool `json:"success"`

	// Output is the text fed back to the model.
	Output string `json:"output"`

	// Data carries structured results merged into the resource pool
	// (e.g. discovered entity schema fragments).
	Data map[string]any `json:"data,omitempty"`

	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`

	// Duration is how long execution took.
	Duration time.Duration `json:"duration"`
}

// Invocation is one requested tool call.
type Invocation struct {
	// ID uniquely identifies the invocation; assigned if empty.
	ID string `json:"id"`

	// ToolName resolves the tool in the registry.
	ToolName string `json:"tool_name"`

	// Parameters are the model-provided arguments.
	Parameters map[string]any `json:"parameters"`

	// StartedAt and CompletedAt bound the execution.
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Result is attached after execution.
	Result *Result `json:"result,omitempty"`
}
