// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datasource

import (
	"context"
	"errors"
)

// Sentinel errors for the datasource package.
var (
	// ErrEntityNotFound indicates the named entity does not exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEmptyQuery indicates an empty query was submitted.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrProviderUnavailable indicates the datasource cannot be reached.
	ErrProviderUnavailable = errors.New("datasource unavailable")
)

// Provider is the engine's view of an external datasource.
//
// Implementations carry their own connection configuration (see
// Credentials) and must be safe for concurrent use; the engine may
// dispatch a bounded number of tool calls in parallel within a turn.
type Provider interface {
	// ListEntities returns every queryable entity with full field detail.
	// Called once per session to populate the retrieval cache.
	ListEntities(ctx context.Context) ([]Entity, error)

	// DescribeEntity returns one entity's full detail.
	DescribeEntity(ctx context.Context, name string) (*Entity, error)

	// ValidateQuery performs static checks only; it never executes.
	ValidateQuery(ctx context.Context, query string) (*ValidationResult, error)

	// ExecuteQuery runs the query against the live datasource.
	ExecuteQuery(ctx context.Context, query string) (*QueryResult, error)
}
