// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// State is a node in the repair state machine.
type State string

const (
	// StateGenerated means an artifact exists but is unchecked.
	StateGenerated State = "GENERATED"

	// StateValidated means static validation passed.
	StateValidated State = "VALIDATED"

	// StateExecutionAttempted means a live execution check ran.
	StateExecutionAttempted State = "EXECUTION_ATTEMPTED"

	// StateRepaired means a regeneration produced a new artifact.
	StateRepaired State = "REPAIRED"

	// StateFailed is absorbing: no transition leaves it.
	StateFailed State = "FAILED"
)

// transitions is the legal state graph. FAILED has no outgoing edges;
// a successful live check returns to VALIDATED.
var transitions = map[State][]State{
	StateGenerated:          {StateValidated, StateRepaired, StateFailed},
	StateValidated:          {StateExecutionAttempted, StateFailed},
	StateExecutionAttempted: {StateValidated, StateRepaired, StateFailed},
	StateRepaired:           {StateValidated, StateFailed},
	StateFailed:             {},
}

// canTransition reports whether from -> to is a legal edge.
func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Sentinel errors for the repair controller.
var (
	// ErrRetriesExhausted indicates the retry bound was hit.
	ErrRetriesExhausted = errors.New("repair: retries exhausted")

	// ErrNotRetryable indicates an environmental failure that
	// regeneration cannot fix.
	ErrNotRetryable = errors.New("repair: error type is not retryable")

	// ErrIllegalTransition indicates a state machine violation.
	ErrIllegalTransition = errors.New("repair: illegal state transition")
)

// DefaultMaxRetries bounds regeneration attempts per artifact.
const DefaultMaxRetries = 1

// RetryContext is the information handed to the regenerator: plain
// data, never callable handles.
type RetryContext struct {
	// Artifact is the failed artifact text.
	Artifact string

	// ErrorMessage is the validator's or executor's message.
	ErrorMessage string

	// ErrorType is the classified failure category.
	ErrorType ErrorType

	// Guidance is the category-specific repair instruction.
	Guidance string

	// RetryCount is the attempt number, starting at 1.
	RetryCount int

	// MaxRetries is the configured bound.
	MaxRetries int
}

// Validator statically checks an artifact. It returns a non-empty
// message when the artifact is invalid.
type Validator func(ctx context.Context, artifact string) (ok bool, message string, err error)

// Executor runs an artifact against the live datasource and returns
// the failure message, if any.
type Executor func(ctx context.Context, artifact string) (ok bool, message string, err error)

// Regenerator produces a replacement artifact from a RetryContext.
type Regenerator interface {
	Regenerate(ctx context.Context, rc RetryContext) (string, error)
}

// Outcome reports what the controller did with one artifact.
type Outcome struct {
	// Artifact is the final artifact text, possibly regenerated.
	Artifact string

	// State is the terminal machine state.
	State State

	// Attempts counts regeneration attempts made.
	Attempts int

	// ErrorType is the last classified failure, if any.
	ErrorType ErrorType

	// Guidance is the last repair instruction used, if any.
	Guidance string

	// ExecutionChecked reports whether a live execution check ran.
	ExecutionChecked bool

	// FinalError is non-nil when State is StateFailed.
	FinalError error
}

// Controller walks an artifact through validate / execute / regenerate
// until it passes or the retry bound is hit.
//
// Thread Safety: Controller is safe for concurrent use; each Repair
// call carries its own state.
type Controller struct {
	validate   Validator
	execute    Executor
	regen      Regenerator
	maxRetries int
	logger     *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) ControllerOption {
	return func(c *Controller) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController creates a Controller. validate is required; execute and
// regen may be nil, disabling live checks and regeneration respectively.
func NewController(validate Validator, execute Executor, regen Regenerator, opts ...ControllerOption) (*Controller, error) {
	if validate == nil {
		return nil, fmt.Errorf("repair: validator is required")
	}
	c := &Controller{
		validate:   validate,
		execute:    execute,
		regen:      regen,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Repair drives one artifact to a terminal state.
//
// Description:
//
//	The artifact starts in GENERATED. Static validation moves it to
//	VALIDATED; a clean first validation terminates there without ever
//	touching the live datasource. A validation failure classifies the
//	error and enters a bounded regeneration cycle (REPAIRED ->
//	VALIDATED). When allowExecution is true and an executor is
//	configured, a REGENERATED artifact that revalidates gets at most
//	ONE live execution check per Repair call, regardless of how many
//	regenerations happen; a passing check returns to VALIDATED.
//	Exhausting retries, a non-retryable error class, or a missing
//	regenerator lands in FAILED, which is absorbing.
//
// Inputs:
//
//	ctx - Context for cancellation; checked between attempts.
//	artifact - The artifact text to check.
//	allowExecution - Whether a live execution check is permitted on
//	the repair path.
//
// Outputs:
//
//	Outcome - The terminal state and accounting. FinalError is set
//	only when State is StateFailed.
//	error - Infrastructure failures (validator or regenerator errors),
//	distinct from artifact failures which land in the Outcome.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Controller) Repair(ctx context.Context, artifact string, allowExecution bool) (*Outcome, error) {
	outcome := &Outcome{Artifact: artifact, State: StateGenerated}

	for {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		ok, message, err := c.validate(ctx, outcome.Artifact)
		if err != nil {
			return outcome, fmt.Errorf("repair: validator: %w", err)
		}

		if ok {
			if err := c.advance(outcome, StateValidated); err != nil {
				return outcome, err
			}
			// Live execution runs only on the repair path: the clean
			// first validation returns without it, and one check per
			// Repair call bounds the worst-case cost.
			if !allowExecution || c.execute == nil || outcome.Attempts == 0 || outcome.ExecutionChecked {
				return outcome, nil
			}

			if err := c.advance(outcome, StateExecutionAttempted); err != nil {
				return outcome, err
			}
			outcome.ExecutionChecked = true

			execOK, execMessage, execErr := c.execute(ctx, outcome.Artifact)
			if execErr != nil {
				return outcome, fmt.Errorf("repair: executor: %w", execErr)
			}
			if execOK {
				if err := c.advance(outcome, StateValidated); err != nil {
					return outcome, err
				}
				return outcome, nil
			}
			message = execMessage
		}

		outcome.ErrorType = Classify(message)
		outcome.Guidance = Guidance(outcome.ErrorType)
		c.logger.Warn("artifact check failed",
			"error_type", string(outcome.ErrorType),
			"attempt", outcome.Attempts,
			"message", message,
		)

		if !outcome.ErrorType.Retryable() {
			c.fail(outcome, fmt.Errorf("%w: %s: %s", ErrNotRetryable, outcome.ErrorType, message))
			return outcome, nil
		}
		if outcome.Attempts >= c.maxRetries {
			c.fail(outcome, fmt.Errorf("%w after %d attempt(s): %s", ErrRetriesExhausted, outcome.Attempts, message))
			return outcome, nil
		}
		if c.regen == nil {
			c.fail(outcome, fmt.Errorf("repair: no regenerator configured: %s", message))
			return outcome, nil
		}

		outcome.Attempts++
		rc := RetryContext{
			Artifact:     outcome.Artifact,
			ErrorMessage: message,
			ErrorType:    outcome.ErrorType,
			Guidance:     outcome.Guidance,
			RetryCount:   outcome.Attempts,
			MaxRetries:   c.maxRetries,
		}
		replacement, err := c.regen.Regenerate(ctx, rc)
		if err != nil {
			return outcome, fmt.Errorf("repair: regenerate: %w", err)
		}

		if err := c.advance(outcome, StateRepaired); err != nil {
			return outcome, err
		}
		outcome.Artifact = replacement
	}
}

// advance moves the outcome's state along a legal edge.
func (c *Controller) advance(outcome *Outcome, to State) error {
	if !canTransition(outcome.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, outcome.State, to)
	}
	outcome.State = to
	return nil
}

// fail moves to the absorbing FAILED state. Every state has an edge to
// FAILED, so this cannot violate the transition table.
func (c *Controller) fail(outcome *Outcome, err error) {
	outcome.State = StateFailed
	outcome.FinalError = err
}
