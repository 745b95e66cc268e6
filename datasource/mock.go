// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockProvider is an in-memory Provider for tests and the CLI demo.
//
// Validation is a lightweight shape check plus entity/field existence
// against the configured schema. Failures can additionally be scripted
// per call through the failure hooks.
//
// Thread Safety: MockProvider is safe for concurrent use.
type MockProvider struct {
	mu sync.RWMutex

	entities []Entity

	// ValidateHook, when set, overrides validation for a query.
	ValidateHook func(query string) *ValidationResult

	// ExecuteHook, when set, overrides execution for a query.
	ExecuteHook func(query string) (*QueryResult, error)

	// ListErr, when set, is returned by ListEntities.
	ListErr error

	// listCalls counts ListEntities invocations (cache amortization tests).
	listCalls int
}

// NewMockProvider creates a mock provider over the given entities.
func NewMockProvider(entities []Entity) *MockProvider {
	return &MockProvider{entities: entities}
}

// ListEntities implements Provider.
func (m *MockProvider) ListEntities(ctx context.Context) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.listCalls++
	err := m.ListErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entity, len(m.entities))
	copy(out, m.entities)
	return out, nil
}

// ListCalls returns how many times ListEntities was invoked.
func (m *MockProvider) ListCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls
}

// DescribeEntity implements Provider.
func (m *MockProvider) DescribeEntity(ctx context.Context, name string) (*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entities {
		if strings.EqualFold(e.Name, name) {
			entity := e
			return &entity, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, name)
}

// ValidateQuery implements Provider.
//
// Description:
//
//	Static checks only: non-empty, SELECT-shaped, references a known
//	entity, and every selected field exists on that entity. No live
//	execution happens here.
func (m *MockProvider) ValidateQuery(ctx context.Context, query string) (*ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	hook := m.ValidateHook
	m.mu.RUnlock()
	if hook != nil {
		if result := hook(query); result != nil {
			return result, nil
		}
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	upper := strings.ToUpper(query)
	if !strings.HasPrefix(upper, "SELECT ") {
		return &ValidationResult{Valid: false, Message: "syntax error: query must start with SELECT"}, nil
	}

	fromIdx := strings.Index(upper, " FROM ")
	if fromIdx < 0 {
		return &ValidationResult{Valid: false, Message: "syntax error: missing FROM clause"}, nil
	}

	entityName := firstToken(query[fromIdx+len(" FROM "):])
	entity := m.findEntity(entityName)
	if entity == nil {
		return &ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("entity not found: %s", entityName),
		}, nil
	}

	known := make(map[string]bool, len(entity.Fields))
	for _, f := range entity.Fields {
		known[strings.ToLower(f.Name)] = true
	}
	fieldList := query[len("SELECT "):fromIdx]
	for _, raw := range strings.Split(fieldList, ",") {
		field := strings.TrimSpace(raw)
		if field == "" || field == "*" {
			continue
		}
		if !known[strings.ToLower(field)] {
			return &ValidationResult{
				Valid:   false,
				Message: fmt.Sprintf("unknown field %s on entity %s", field, entity.Name),
			}, nil
		}
	}

	return &ValidationResult{Valid: true}, nil
}

// ExecuteQuery implements Provider.
func (m *MockProvider) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	hook := m.ExecuteHook
	m.mu.RUnlock()
	if hook != nil {
		return hook(query)
	}

	// Validate first; execution of an invalid query fails.
	result, err := m.ValidateQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, fmt.Errorf("execution failed: %s", result.Message)
	}

	return &QueryResult{
		Columns:  []string{"Id"},
		Rows:     [][]any{{"001"}},
		RowCount: 1,
		Duration: time.Millisecond,
	}, nil
}

// findEntity returns the entity with the given name, or nil.
func (m *MockProvider) findEntity(name string) *Entity {
	for i := range m.entities {
		if strings.EqualFold(m.entities[i].Name, name) {
			return &m.entities[i]
		}
	}
	return nil
}

// firstToken returns the first whitespace-delimited token of s.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
