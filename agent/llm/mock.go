// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"sync"
)

// MockClient replays scripted responses in order. Tests use it to
// drive the orchestrator through multi-turn tool loops without a
// live backend.
type MockClient struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     int
	requests  []*Request
}

// NewMockClient creates a mock that returns the given responses in
// sequence. A nil entry in responses pairs with the same-index entry
// in errs to script a failure.
func NewMockClient(responses ...*Response) *MockClient {
	return &MockClient{responses: responses}
}

// FailWith scripts an error at the call position matching its index.
func (m *MockClient) FailWith(errs ...error) *MockClient {
	m.errs = errs
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx >= len(m.responses) {
		return &Response{Content: "done", StopReason: "stop", Model: m.Model()}, nil
	}
	return m.responses[idx], nil
}

// Name implements Client.
func (m *MockClient) Name() string { return "mock" }

// Model implements Client.
func (m *MockClient) Model() string { return "mock-model" }

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Request returns the i-th captured request, or nil.
func (m *MockClient) Request(i int) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.requests) {
		return nil
	}
	return m.requests[i]
}
