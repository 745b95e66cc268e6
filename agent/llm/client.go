// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors for the adapter layer.
var (
	// ErrEmptyResponse indicates the backend returned no content and
	// no tool calls. The orchestrator retries this once per turn.
	ErrEmptyResponse = errors.New("llm: backend returned an empty response")

	// ErrBackendUnavailable indicates a transport-level failure.
	ErrBackendUnavailable = errors.New("llm: backend unavailable")

	// ErrRequestTimeout indicates the per-call deadline elapsed.
	ErrRequestTimeout = errors.New("llm: request timed out")
)

// Client is a completion backend.
type Client interface {
	// Complete issues one completion call.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name identifies the backend ("openai", "ollama", "genai").
	Name() string

	// Model returns the configured model identifier.
	Model() string
}

// ThrottledClient wraps a Client with a token-bucket rate limit and a
// per-call timeout. Every backend goes through this wrapper so bursty
// tool loops cannot exhaust provider quotas.
type ThrottledClient struct {
	inner   Client
	limiter *rate.Limiter
	timeout time.Duration
}

// DefaultRequestTimeout bounds a single completion call.
const DefaultRequestTimeout = 120 * time.Second

// NewThrottledClient wraps inner with rps requests per second (burst 1)
// and a per-call timeout. A non-positive rps disables throttling; a
// non-positive timeout uses DefaultRequestTimeout.
func NewThrottledClient(inner Client, rps float64, timeout time.Duration) *ThrottledClient {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &ThrottledClient{inner: inner, limiter: limiter, timeout: timeout}
}

// Complete implements Client.
func (t *ThrottledClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm: rate limit wait: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.inner.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", ErrRequestTimeout, t.timeout, err)
		}
		return nil, err
	}
	return resp, nil
}

// Name implements Client.
func (t *ThrottledClient) Name() string { return t.inner.Name() }

// Model implements Client.
func (t *ThrottledClient) Model() string { return t.inner.Model() }
