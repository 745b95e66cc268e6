// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/queryforge/queryforge/agent/events"
	"github.com/queryforge/queryforge/agent/llm"
	"github.com/queryforge/queryforge/agent/repair"
	"github.com/queryforge/queryforge/agent/tools"
	"github.com/queryforge/queryforge/datasource"
	"github.com/queryforge/queryforge/pool"
	"github.com/queryforge/queryforge/retrieval"
	"github.com/queryforge/queryforge/telemetry"
)

var tracer = otel.Tracer("queryforge.agent")

// Engine defaults, overridable per Option and per Session.
const (
	DefaultMaxIterations  = 10
	DefaultTokenBudget    = 8000
	DefaultRetrievalTopK  = 5
	DefaultWallClockLimit = 5 * time.Minute
	defaultTemperature    = 0.2
	defaultResponseTokens = 2048
	emptyResponseRetries  = 1
)

// Options tune the engine. Zero values take defaults.
type Options struct {
	MaxIterations   int
	TokenBudget     int
	RetrievalTopK   int
	RetrievalBudget int
	ToolConcurrency int
	MaxRetries      int
	WallClockLimit  time.Duration
	Temperature     float32
	Logger          *slog.Logger
	Handlers        []events.Handler
}

func (o *Options) applyDefaults() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.TokenBudget <= 0 {
		o.TokenBudget = DefaultTokenBudget
	}
	if o.RetrievalTopK <= 0 {
		o.RetrievalTopK = DefaultRetrievalTopK
	}
	if o.RetrievalBudget <= 0 {
		o.RetrievalBudget = retrieval.DefaultSubBudget
	}
	if o.ToolConcurrency <= 0 {
		o.ToolConcurrency = tools.DefaultConcurrency
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = repair.DefaultMaxRetries
	}
	if o.WallClockLimit <= 0 {
		o.WallClockLimit = DefaultWallClockLimit
	}
	if o.Temperature <= 0 {
		o.Temperature = defaultTemperature
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Engine is the orchestrator. One Engine serves many sessions; all
// per-run state (pool, cache, emitter, history) is created inside
// Execute, so concurrent runs never share mutable state.
//
// Thread Safety: Engine is safe for concurrent use.
type Engine struct {
	client     llm.Client
	provider   datasource.Provider
	composer   *llm.Composer
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	validate   *validator.Validate
	opts       Options
	logger     *slog.Logger
}

// NewEngine wires an engine over a model client and a datasource
// provider. The provider's tools are registered automatically.
func NewEngine(client llm.Client, provider datasource.Provider, opts Options) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("agent: llm client is required")
	}
	if provider == nil {
		return nil, ErrNoProvider
	}
	opts.applyDefaults()

	registry := tools.NewRegistry()
	for _, tool := range []tools.Tool{
		datasource.NewDiscoverEntitiesTool(provider),
		datasource.NewDescribeEntityTool(provider),
		datasource.NewValidateQueryTool(provider),
		datasource.NewExecuteQueryTool(provider),
		datasource.NewAnalyzeResultsTool(),
	} {
		registry.Register(tool)
	}

	executor := tools.NewExecutor(registry, &tools.ExecutorOptions{Logger: opts.Logger})
	dispatcher := tools.NewDispatcher(executor, opts.ToolConcurrency)

	return &Engine{
		client:     client,
		provider:   provider,
		composer:   llm.NewComposer(llm.WithComposerLogger(opts.Logger)),
		registry:   registry,
		dispatcher: dispatcher,
		validate:   validator.New(),
		opts:       opts,
		logger:     opts.Logger,
	}, nil
}

// Registry exposes the engine's tool registry so callers can add
// domain tools beyond the datasource set.
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// run carries one execution's mutable state.
type run struct {
	id      string
	session *Session
	emitter *events.Emitter
	logger  *slog.Logger
	pool    *pool.ResourcePool
	rtv     *retrieval.Retriever

	history   []llm.Message
	stage     retrieval.Stage
	records   []ToolCallRecord
	dropped   int
	tokensIn  int
	tokensOut int
}

// Execute drives one session to completion.
//
// Description:
//
//	Each iteration rebuilds the bounded memory snapshot, retrieves
//	fresh schema context, composes a budgeted prompt, and calls the
//	model. Tool calls are dispatched with bounded concurrency and
//	their structured results merged into the resource pool, making
//	newly discovered entities retrievable on the next turn. A terminal
//	answer goes through the repair controller (static validation, one
//	optional live check, bounded regeneration) before being returned.
//	Hitting the iteration or wall-clock bound yields a partial
//	response with halved quality instead of an error.
//
// Inputs:
//
//	ctx - Context for cancellation; the run also enforces its own
//	wall-clock limit.
//	session - The request. Validated before anything runs.
//
// Outputs:
//
//	*Response - The final or partial response.
//	error - ErrInvalidSession, ErrLLMFailed, or a context error.
//
// Thread Safety: This method is safe for concurrent use.
func (e *Engine) Execute(ctx context.Context, session *Session) (*Response, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: session is nil", ErrInvalidSession)
	}
	if err := e.validate.Struct(session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}

	maxIterations := session.MaxIterations
	if maxIterations <= 0 {
		maxIterations = e.iterationsForHint(session.ComplexityHint)
	}
	wallClock := session.WallClockLimit
	if wallClock <= 0 {
		wallClock = e.opts.WallClockLimit
	}
	// parent stays untouched so the run's own deadline is
	// distinguishable from caller cancellation.
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, wallClock)
	defer cancel()

	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "Engine.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("session.id", session.ID),
		attribute.Int("run.max_iterations", maxIterations),
	)

	logger := telemetry.LoggerWithRun(ctx, e.logger, runID)

	emitter := events.NewEmitter(runID, session.ID)
	emitter.Subscribe(events.LoggingHandler(logger))
	for _, h := range e.opts.Handlers {
		emitter.Subscribe(h)
	}

	cache := retrieval.NewEntityCache(e.provider, session.ResourceID)
	r := &run{
		id:      runID,
		session: session,
		emitter: emitter,
		logger:  logger,
		pool:    pool.NewResourcePool(pool.WithLogger(logger)),
		rtv: retrieval.NewRetriever(cache,
			retrieval.WithSubBudget(e.opts.RetrievalBudget),
			retrieval.WithRetrieverLogger(logger),
		),
		stage: session.Stage,
	}
	if r.stage == "" {
		r.stage = retrieval.StageDiscovery
	}

	started := time.Now()
	emitter.Emit(events.TypeRunStarted, string(r.stage), events.RunStartedData{
		Goal:          session.Goal,
		ResourceID:    session.ResourceID,
		MaxIterations: maxIterations,
		Model:         e.client.Model(),
	})

	if err := cache.Initialize(ctx); err != nil {
		// Discovery can still proceed through tools; retrieval just
		// has nothing to rank yet.
		logger.Warn("entity cache initialization failed", "error", err)
	}

	static := e.buildSystemPrompt(session)
	r.history = append(r.history, llm.Message{Role: llm.RoleUser, Content: session.Goal})

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			if wallClockExpired(ctx, parent) {
				return e.partial(r, iteration-1, maxIterations, started, "wall clock limit reached"), nil
			}
			emitter.Emit(events.TypeRunFailed, string(r.stage), events.RunFailedData{
				Reason:    err.Error(),
				Iteration: iteration,
			})
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrRunCanceled, err)
		}

		mem := r.pool.BuildMemory()
		r.stage = nextStage(mem, r.stage)
		recordIteration(ctx, string(r.stage))

		composed := e.composeTurn(ctx, r, static, mem)
		r.dropped += composed.DroppedMessages
		recordDropped(ctx, composed.DroppedMessages)

		emitter.Emit(events.TypeIterationProgress, string(r.stage), events.IterationProgressData{
			Iteration:     iteration,
			MaxIterations: maxIterations,
			TokenEstimate: composed.TotalTokens,
		})

		resp, err := e.completeWithRetry(ctx, composed)
		if err != nil {
			if wallClockExpired(ctx, parent) {
				return e.partial(r, iteration, maxIterations, started, "wall clock limit reached"), nil
			}
			emitter.Emit(events.TypeRunFailed, string(r.stage), events.RunFailedData{
				Reason:    err.Error(),
				Iteration: iteration,
			})
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrLLMFailed, err)
		}
		r.tokensIn += resp.TokensIn
		r.tokensOut += resp.TokensOut

		if resp.HasToolCalls() {
			e.runTools(ctx, r, resp, iteration)
			continue
		}

		// Terminal answer.
		return e.finalize(ctx, parent, r, resp, iteration, maxIterations, started)
	}

	return e.partial(r, maxIterations, maxIterations, started, "iteration bound reached"), nil
}

// wallClockExpired reports whether the run's own deadline fired while
// the caller's context is still live. That case degrades to a partial
// response instead of erroring, per the budget-exhaustion policy.
func wallClockExpired(runCtx, parent context.Context) bool {
	return runCtx.Err() != nil && parent.Err() == nil
}

// iterationsForHint scales the default iteration bound by the caller's
// complexity hint.
func (e *Engine) iterationsForHint(hint string) int {
	switch hint {
	case "low":
		return e.opts.MaxIterations / 2
	case "high":
		return e.opts.MaxIterations * 2
	default:
		return e.opts.MaxIterations
	}
}

// composeTurn builds the budgeted prompt for one iteration. Retrieval
// runs fresh every turn so entities surfaced by the previous turn's
// tool calls are already rankable.
func (e *Engine) composeTurn(ctx context.Context, r *run, static string, mem pool.ContextMemory) llm.Composed {
	query := r.session.Goal
	if len(mem.EntityNames) > 0 {
		query += " " + strings.Join(mem.EntityNames, " ")
	}

	var dynamic string
	docs, err := r.rtv.Retrieve(ctx, query, r.stage, e.opts.RetrievalTopK)
	if err != nil {
		r.logger.Warn("retrieval failed, proceeding without schema context", "error", err)
	} else {
		dynamic = r.rtv.Format(docs)
	}
	if mem.LastError != "" {
		dynamic = joinSections(dynamic, "Most recent validation error: "+mem.LastError)
	}

	return e.composer.Compose(static, dynamic, r.history, e.opts.TokenBudget)
}

// completeWithRetry calls the model, retrying an empty response once
// within the turn. Transport failures are not retried here; the
// throttled client already owns per-call timeouts.
func (e *Engine) completeWithRetry(ctx context.Context, composed llm.Composed) (*llm.Response, error) {
	req := &llm.Request{
		System:      composed.System,
		Messages:    composed.Messages,
		Tools:       e.registry.Definitions(),
		MaxTokens:   defaultResponseTokens,
		Temperature: e.opts.Temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= emptyResponseRetries; attempt++ {
		resp, err := e.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, llm.ErrEmptyResponse) {
			return nil, err
		}
		e.logger.Warn("empty model response, retrying once", "attempt", attempt+1)
	}
	return nil, lastErr
}

// runTools dispatches the model's tool calls and feeds results back
// into the history and the resource pool.
func (e *Engine) runTools(ctx context.Context, r *run, resp *llm.Response, iteration int) {
	invocations := make([]*tools.Invocation, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		params := map[string]any{}
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
				r.logger.Warn("unparseable tool arguments",
					"tool", call.Name, "error", err)
			}
		}
		inv := &tools.Invocation{ID: call.ID, ToolName: call.Name, Parameters: params}
		invocations = append(invocations, inv)

		r.emitter.Emit(events.TypeToolCalled, string(r.stage), events.ToolCalledData{
			InvocationID: inv.ID,
			ToolName:     inv.ToolName,
			Iteration:    iteration,
		})
	}

	// The assistant turn that requested the calls must precede its
	// RoleTool answers on the wire, even with empty content.
	r.history = append(r.history, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	for _, d := range e.dispatcher.Dispatch(ctx, invocations) {
		record := ToolCallRecord{
			InvocationID: d.Invocation.ID,
			ToolName:     d.Invocation.ToolName,
			Iteration:    iteration,
		}

		var feedback string
		switch {
		case d.Err != nil:
			feedback = "tool error: " + d.Err.Error()
		case d.Result != nil:
			record.Success = d.Result.Success
			record.Duration = d.Result.Duration
			if d.Result.Success {
				feedback = d.Result.Output
			} else {
				feedback = "tool failed: " + d.Result.Error
			}
			r.pool.Update(d.Result.Data)
		}

		errText := ""
		if !record.Success {
			errText = feedback
		}
		r.emitter.Emit(events.TypeToolResult, string(r.stage), events.ToolResultData{
			InvocationID: record.InvocationID,
			ToolName:     record.ToolName,
			Success:      record.Success,
			Error:        errText,
			Duration:     record.Duration,
		})

		recordToolCall(ctx, record.ToolName, record.Success)
		r.records = append(r.records, record)
		r.history = append(r.history, llm.Message{
			Role:       llm.RoleTool,
			Content:    feedback,
			ToolCallID: d.Invocation.ID,
			Name:       d.Invocation.ToolName,
		})
	}
}

// finalize validates and, if needed, repairs the terminal answer, then
// assembles the response.
func (e *Engine) finalize(ctx, parent context.Context, r *run, resp *llm.Response, iteration, maxIterations int, started time.Time) (*Response, error) {
	artifact, reasoning := splitArtifact(resp.Content)
	r.pool.Update(map[string]any{
		pool.KeyArtifactHistory: []any{artifact},
	})

	controller, err := repair.NewController(
		e.validateArtifact,
		e.executeArtifact,
		&llmRegenerator{client: e.client, system: e.buildSystemPrompt(r.session), temperature: e.opts.Temperature},
		repair.WithMaxRetries(e.opts.MaxRetries),
		repair.WithLogger(r.logger),
	)
	if err != nil {
		return nil, err
	}

	outcome, err := controller.Repair(ctx, artifact, true)
	if err != nil {
		if wallClockExpired(ctx, parent) {
			return e.partial(r, iteration, maxIterations, started, "wall clock limit reached"), nil
		}
		r.emitter.Emit(events.TypeRunFailed, string(r.stage), events.RunFailedData{
			Reason:    err.Error(),
			Iteration: iteration,
		})
		return nil, err
	}
	recordRepairAttempts(ctx, outcome.Attempts, string(outcome.ErrorType))
	if outcome.Attempts > 0 || outcome.State == repair.StateFailed {
		r.emitter.Emit(events.TypeRepairAttempted, string(r.stage), events.RepairAttemptedData{
			Attempt:   outcome.Attempts,
			ErrorType: string(outcome.ErrorType),
			State:     string(outcome.State),
		})
	}

	validated := outcome.State != repair.StateFailed
	toolSuccesses := 0
	for _, rec := range r.records {
		if rec.Success {
			toolSuccesses++
		}
	}

	response := &Response{
		RunID:             r.id,
		Artifact:          outcome.Artifact,
		Reasoning:         reasoning,
		Partial:           false,
		Validated:         validated,
		Iterations:        iteration,
		ToolCalls:         r.records,
		RepairAttempts:    outcome.Attempts,
		DroppedComponents: r.dropped,
		TokensIn:          r.tokensIn,
		TokensOut:         r.tokensOut,
		Duration:          time.Since(started),
	}
	response.Quality = scoreQuality(qualityInputs{
		hasArtifact:      response.Artifact != "",
		validationPassed: validated,
		iterations:       iteration,
		maxIterations:    maxIterations,
		toolCalls:        len(r.records),
		toolSuccesses:    toolSuccesses,
	})

	r.emitter.Emit(events.TypeRunCompleted, string(r.stage), events.RunCompletedData{
		Iterations:    iteration,
		ToolCallCount: len(r.records),
		Quality:       response.Quality,
	})
	return response, nil
}

// partial builds the soft-termination response after the iteration or
// wall-clock bound is exhausted.
func (e *Engine) partial(r *run, iterations, maxIterations int, started time.Time, reason string) *Response {
	r.logger.Warn("returning partial response",
		"reason", reason, "iterations", iterations, "max_iterations", maxIterations)

	var artifact string
	bundle := r.pool.ExtractForStep(pool.StepValidation)
	if a, ok := bundle["artifact"].(string); ok {
		artifact = a
	}

	mem := r.pool.BuildMemory()
	toolSuccesses := 0
	for _, rec := range r.records {
		if rec.Success {
			toolSuccesses++
		}
	}

	response := &Response{
		RunID:             r.id,
		Artifact:          artifact,
		Partial:           true,
		Validated:         false,
		Iterations:        iterations,
		ToolCalls:         r.records,
		DroppedComponents: r.dropped,
		TokensIn:          r.tokensIn,
		TokensOut:         r.tokensOut,
		Duration:          time.Since(started),
	}
	response.Quality = scoreQuality(qualityInputs{
		hasArtifact:      artifact != "",
		validationPassed: mem.ValidationPassed,
		iterations:       iterations,
		maxIterations:    maxIterations,
		toolCalls:        len(r.records),
		toolSuccesses:    toolSuccesses,
		partial:          true,
	})

	r.emitter.Emit(events.TypeRunCompleted, string(r.stage), events.RunCompletedData{
		Iterations:    iterations,
		ToolCallCount: len(r.records),
		Quality:       response.Quality,
		Partial:       true,
	})
	return response
}

// validateArtifact adapts the provider's static check to the repair
// controller's Validator signature.
func (e *Engine) validateArtifact(ctx context.Context, artifact string) (bool, string, error) {
	result, err := e.provider.ValidateQuery(ctx, artifact)
	if err != nil {
		if errors.Is(err, datasource.ErrEmptyQuery) {
			return false, "syntax error: empty query", nil
		}
		return false, "", err
	}
	return result.Valid, result.Message, nil
}

// executeArtifact adapts live execution to the controller's Executor
// signature. Execution failures come back as messages, not errors, so
// they classify and repair like any other failure.
func (e *Engine) executeArtifact(ctx context.Context, artifact string) (bool, string, error) {
	if _, err := e.provider.ExecuteQuery(ctx, artifact); err != nil {
		return false, err.Error(), nil
	}
	return true, "", nil
}

// buildSystemPrompt renders the static prompt for a session.
func (e *Engine) buildSystemPrompt(session *Session) string {
	var builder strings.Builder
	builder.WriteString("You generate queries against an external datasource. ")
	builder.WriteString("Use the provided tools to discover entities and fields before ")
	builder.WriteString("referencing them; never invent names. Validate before finishing. ")
	builder.WriteString("When you are done, reply with the final query in a fenced code block.")

	if session.TaskContext != "" {
		builder.WriteString("\n\nTask context:\n")
		builder.WriteString(session.TaskContext)
	}
	if len(session.Constraints) > 0 {
		builder.WriteString("\n\nHard constraints:")
		for _, constraint := range session.Constraints {
			builder.WriteString("\n- ")
			builder.WriteString(constraint)
		}
	}
	return builder.String()
}

// nextStage derives the run stage from the bounded memory snapshot.
func nextStage(mem pool.ContextMemory, current retrieval.Stage) retrieval.Stage {
	switch {
	case !mem.SchemaAvailable:
		return retrieval.StageDiscovery
	case mem.HasArtifact && mem.ErrorCount > 0 && !mem.ValidationPassed:
		return retrieval.StageRepair
	case mem.HasArtifact:
		return retrieval.StageValidation
	default:
		return retrieval.StageGeneration
	}
}

// splitArtifact separates a fenced code block from surrounding prose.
// Without a fence the whole reply is the artifact.
func splitArtifact(content string) (artifact, reasoning string) {
	start := strings.Index(content, "```")
	if start < 0 {
		return strings.TrimSpace(content), ""
	}

	rest := content[start+3:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		// Drop the language tag line.
		if tag := strings.TrimSpace(rest[:nl]); tag != "" && !strings.Contains(tag, " ") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), strings.TrimSpace(content[:start])
	}

	artifact = strings.TrimSpace(rest[:end])
	reasoning = strings.TrimSpace(content[:start] + " " + rest[end+3:])
	return artifact, reasoning
}

// joinSections concatenates non-empty prompt sections.
func joinSections(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// llmRegenerator produces a corrected artifact through a focused,
// single-shot model call carrying the classified error and guidance.
type llmRegenerator struct {
	client      llm.Client
	system      string
	temperature float32
}

// Regenerate implements repair.Regenerator.
func (g *llmRegenerator) Regenerate(ctx context.Context, rc repair.RetryContext) (string, error) {
	prompt := fmt.Sprintf(
		"The following artifact failed (%s):\n\n%s\n\nError: %s\n\n%s\n\n"+
			"Reply with ONLY the corrected artifact in a fenced code block.",
		rc.ErrorType, rc.Artifact, rc.ErrorMessage, rc.Guidance,
	)

	resp, err := g.client.Complete(ctx, &llm.Request{
		System:      g.system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   defaultResponseTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", err
	}

	artifact, _ := splitArtifact(resp.Content)
	if artifact == "" {
		return "", llm.ErrEmptyResponse
	}
	return artifact, nil
}
