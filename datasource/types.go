// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datasource defines the external-datasource model the engine
// generates queries against: entities with typed fields, a Provider
// abstraction for discovery/validation/execution, and the concrete
// tools the model may call.
package datasource

import "time"

// Field is one typed field of an entity.
type Field struct {
	// Name is the field name as it appears in queries.
	Name string `json:"name"`

	// Type is the field's declared type (string, number, date, ...).
	Type string `json:"type"`

	// Description is optional human-readable documentation.
	Description string `json:"description,omitempty"`
}

// Entity is one queryable entity of a datasource.
type Entity struct {
	// Name is the entity name as it appears in queries.
	Name string `json:"name"`

	// Description is optional human-readable documentation.
	Description string `json:"description,omitempty"`

	// Fields are the entity's queryable fields.
	Fields []Field `json:"fields"`
}

// FieldNames returns the names of the entity's fields, in order.
func (e Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// ValidationResult is the outcome of a static query check.
type ValidationResult struct {
	// Valid is true when the query passed all static checks.
	Valid bool `json:"valid"`

	// Message describes the failure when Valid is false.
	Message string `json:"message,omitempty"`
}

// QueryResult is the outcome of a live query execution.
type QueryResult struct {
	// Columns are the result column names.
	Columns []string `json:"columns"`

	// Rows are the result rows, column-aligned.
	Rows [][]any `json:"rows"`

	// RowCount is len(Rows), carried separately for truncated results.
	RowCount int `json:"row_count"`

	// Duration is how long execution took.
	Duration time.Duration `json:"duration"`
}

// Credentials is the request-scoped connection configuration bound to a
// provider at construction time. It is never surfaced to the model:
// tools built on a provider already carry it, so the model never sees
// or fabricates connection arguments.
type Credentials struct {
	// ResourceID identifies the external datasource.
	ResourceID string

	// Endpoint is the datasource address.
	Endpoint string

	// Token is the access secret.
	Token string
}
