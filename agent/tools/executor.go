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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("queryforge.tools")

// Sentinel errors for the executor.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrValidationFailed indicates parameter validation failed.
	ErrValidationFailed = errors.New("parameter validation failed")

	// ErrTimeout indicates the tool execution timed out.
	ErrTimeout = errors.New("tool execution timed out")
)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// DefaultTimeout applies to tools that declare no timeout.
	// Default: 30s.
	DefaultTimeout time.Duration

	// Logger is the executor's logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultExecutorOptions returns sensible defaults.
func DefaultExecutorOptions() ExecutorOptions {
	return ExecutorOptions{
		DefaultTimeout: 30 * time.Second,
		Logger:         slog.Default(),
	}
}

// Executor handles single tool invocations with validation, timeouts,
// and observability.
//
// Thread Safety:
//
//	Executor is safe for concurrent use. Multiple tool executions can
//	run simultaneously.
type Executor struct {
	registry *Registry
	options  ExecutorOptions
}

// NewExecutor creates a new tool executor.
//
// Inputs:
//
//	registry - The tool registry.
//	opts - Executor options (defaults used if nil).
func NewExecutor(registry *Registry, opts *ExecutorOptions) *Executor {
	options := DefaultExecutorOptions()
	if opts != nil {
		options = *opts
		if options.DefaultTimeout <= 0 {
			options.DefaultTimeout = 30 * time.Second
		}
		if options.Logger == nil {
			options.Logger = slog.Default()
		}
	}
	return &Executor{registry: registry, options: options}
}

// Execute runs a single tool invocation.
//
// Description:
//
//	Resolves the tool, validates required parameters against its
//	definition, applies the per-call timeout, and executes. A tool that
//	returns a failed Result is NOT an error from the executor's point of
//	view: the Result flows back to the model as an observation. Errors
//	are reserved for conditions the model cannot act on (unknown tool,
//	malformed parameters, timeout).
//
// Inputs:
//
//	ctx - Context for cancellation.
//	invocation - The call to execute. ID is assigned if empty.
//
// Outputs:
//
//	*Result - The execution result, also attached to the invocation.
//	error - ErrToolNotFound, ErrValidationFailed, or ErrTimeout.
//
// Thread Safety: This method is safe for concurrent use.
func (e *Executor) Execute(ctx context.Context, invocation *Invocation) (*Result, error) {
	if invocation == nil {
		return nil, fmt.Errorf("%w: nil invocation", ErrValidationFailed)
	}
	if invocation.ID == "" {
		invocation.ID = uuid.NewString()
	}

	logger := e.options.Logger.With(
		"tool", invocation.ToolName,
		"invocation_id", invocation.ID,
	)

	ctx, span := tracer.Start(ctx, "tools.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", invocation.ToolName),
		attribute.String("tool.invocation_id", invocation.ID),
	)

	tool, ok := e.registry.Get(invocation.ToolName)
	if !ok {
		logger.Warn("tool not found")
		span.SetStatus(codes.Error, "tool not found")
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, invocation.ToolName)
	}

	if err := validateParams(tool.Definition(), invocation.Parameters); err != nil {
		logger.Warn("parameter validation failed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	timeout := e.options.DefaultTimeout
	if d := tool.Definition().Timeout; d > 0 {
		timeout = d
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	invocation.StartedAt = time.Now()
	result, err := runTool(ctx, tool, invocation.Parameters, logger)
	invocation.CompletedAt = time.Now()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Error("tool execution timed out", "timeout", timeout)
			span.SetStatus(codes.Error, "timeout")
			return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, invocation.ToolName, timeout)
		}
		// Tool-level failures become observations, not engine errors.
		logger.Warn("tool execution failed", "error", err)
		result = &Result{Success: false, Error: err.Error()}
	}
	if result == nil {
		result = &Result{Success: false, Error: "tool returned no result"}
	}

	result.Duration = invocation.CompletedAt.Sub(invocation.StartedAt)
	invocation.Result = result

	logger.Debug("tool executed",
		"success", result.Success,
		"duration", result.Duration,
	)
	return result, nil
}

// runTool invokes the tool, converting a panic into a failed Result so
// one misbehaving tool cannot take down the run.
func runTool(ctx context.Context, tool Tool, params map[string]any, logger *slog.Logger) (result *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("tool panicked", "panic", rec)
			result = &Result{Success: false, Error: fmt.Sprintf("tool panicked: %v", rec)}
			err = nil
		}
	}()
	return tool.Execute(ctx, params)
}

// validateParams checks required parameters against the definition.
func validateParams(def Definition, params map[string]any) error {
	for name, p := range def.Parameters {
		if !p.Required {
			continue
		}
		v, ok := params[name]
		if !ok || v == nil {
			return fmt.Errorf("missing required parameter %q", name)
		}
		if s, isString := v.(string); isString && s == "" {
			return fmt.Errorf("required parameter %q is empty", name)
		}
	}
	return nil
}
