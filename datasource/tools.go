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
	"time"

	"github.com/queryforge/queryforge/agent/tools"
)

// The provider tools wrap a Provider behind the uniform tool surface.
// Credentials live inside the Provider; the model only ever supplies
// entity names and query text.

// schemaFragment shapes an entity for the resource pool's schema key:
// a map keyed by entity name, so repeated discoveries merge key-wise.
func schemaFragment(entities ...Entity) map[string]any {
	byName := make(map[string]any, len(entities))
	for _, e := range entities {
		fields := make(map[string]any, len(e.Fields))
		for _, f := range e.Fields {
			fields[f.Name] = map[string]any{
				"type":        f.Type,
				"description": f.Description,
			}
		}
		byName[e.Name] = map[string]any{
			"description": e.Description,
			"fields":      fields,
		}
	}
	return map[string]any{"schema": byName}
}

// DiscoverEntitiesTool lists the datasource's entities.
type DiscoverEntitiesTool struct {
	provider Provider
}

// NewDiscoverEntitiesTool creates the tool.
func NewDiscoverEntitiesTool(provider Provider) *DiscoverEntitiesTool {
	return &DiscoverEntitiesTool{provider: provider}
}

// Name implements tools.Tool.
func (t *DiscoverEntitiesTool) Name() string { return "discover_entities" }

// Category implements tools.Tool.
func (t *DiscoverEntitiesTool) Category() tools.Category { return tools.CategoryDiscover }

// Definition implements tools.Tool.
func (t *DiscoverEntitiesTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        t.Name(),
		Description: "List every entity available in the datasource, with a short description of each.",
		Category:    t.Category(),
		Parameters:  map[string]tools.Param{},
		Timeout:     15 * time.Second,
	}
}

// Execute implements tools.Tool.
func (t *DiscoverEntitiesTool) Execute(ctx context.Context, _ map[string]any) (*tools.Result, error) {
	entities, err := t.provider.ListEntities(ctx)
	if err != nil {
		return &tools.Result{Success: false, Error: err.Error()}, nil
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Found %d entities:\n", len(entities)))
	for _, e := range entities {
		builder.WriteString(fmt.Sprintf("- %s", e.Name))
		if e.Description != "" {
			builder.WriteString(": " + e.Description)
		}
		builder.WriteString("\n")
	}
	return &tools.Result{
		Success: true,
		Output:  builder.String(),
		Data:    schemaFragment(entities...),
	}, nil
}

// DescribeEntityTool returns one entity's full field list.
type DescribeEntityTool struct {
	provider Provider
}

// NewDescribeEntityTool creates the tool.
func NewDescribeEntityTool(provider Provider) *DescribeEntityTool {
	return &DescribeEntityTool{provider: provider}
}

// Name implements tools.Tool.
func (t *DescribeEntityTool) Name() string { return "describe_entity" }

// Category implements tools.Tool.
func (t *DescribeEntityTool) Category() tools.Category { return tools.CategoryDiscover }

// Definition implements tools.Tool.
func (t *DescribeEntityTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        t.Name(),
		Description: "Get the exact field names and types of one entity. Call this before referencing fields you have not seen.",
		Category:    t.Category(),
		Parameters: map[string]tools.Param{
			"entity": {
				Type:        "string",
				Description: "The entity name to describe.",
				Required:    true,
			},
		},
		Timeout: 15 * time.Second,
	}
}

// Execute implements tools.Tool.
func (t *DescribeEntityTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	name, _ := params["entity"].(string)
	entity, err := t.provider.DescribeEntity(ctx, name)
	if err != nil {
		return &tools.Result{Success: false, Error: err.Error()}, nil
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Entity %s", entity.Name))
	if entity.Description != "" {
		builder.WriteString(": " + entity.Description)
	}
	builder.WriteString("\nFields:\n")
	for _, f := range entity.Fields {
		builder.WriteString(fmt.Sprintf("- %s (%s)", f.Name, f.Type))
		if f.Description != "" {
			builder.WriteString(": " + f.Description)
		}
		builder.WriteString("\n")
	}
	return &tools.Result{
		Success: true,
		Output:  builder.String(),
		Data:    schemaFragment(*entity),
	}, nil
}

// ValidateQueryTool statically checks a query against the schema.
type ValidateQueryTool struct {
	provider Provider
}

// NewValidateQueryTool creates the tool.
func NewValidateQueryTool(provider Provider) *ValidateQueryTool {
	return &ValidateQueryTool{provider: provider}
}

// Name implements tools.Tool.
func (t *ValidateQueryTool) Name() string { return "validate_query" }

// Category implements tools.Tool.
func (t *ValidateQueryTool) Category() tools.Category { return tools.CategoryValidate }

// Definition implements tools.Tool.
func (t *ValidateQueryTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        t.Name(),
		Description: "Statically validate a query against the datasource schema without executing it.",
		Category:    t.Category(),
		Parameters: map[string]tools.Param{
			"query": {
				Type:        "string",
				Description: "The query text to validate.",
				Required:    true,
			},
		},
		Timeout: 15 * time.Second,
	}
}

// Execute implements tools.Tool.
func (t *ValidateQueryTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	query, _ := params["query"].(string)
	result, err := t.provider.ValidateQuery(ctx, query)
	if err != nil {
		return &tools.Result{Success: false, Error: err.Error()}, nil
	}

	data := map[string]any{
		"validation_history": []any{
			map[string]any{
				"query":   query,
				"success": result.Valid,
				"error":   validationError(result),
			},
		},
	}
	if result.Valid {
		return &tools.Result{Success: true, Output: "Query is valid.", Data: data}, nil
	}
	return &tools.Result{
		Success: true,
		Output:  "Query is invalid: " + result.Message,
		Data:    data,
	}, nil
}

func validationError(result *ValidationResult) string {
	if result.Valid {
		return ""
	}
	return result.Message
}

// ExecuteQueryTool runs a query against the live datasource.
type ExecuteQueryTool struct {
	provider Provider
}

// NewExecuteQueryTool creates the tool.
func NewExecuteQueryTool(provider Provider) *ExecuteQueryTool {
	return &ExecuteQueryTool{provider: provider}
}

// Name implements tools.Tool.
func (t *ExecuteQueryTool) Name() string { return "execute_query" }

// Category implements tools.Tool.
func (t *ExecuteQueryTool) Category() tools.Category { return tools.CategoryExecute }

// Definition implements tools.Tool.
func (t *ExecuteQueryTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        t.Name(),
		Description: "Execute a validated query against the live datasource and return the results.",
		Category:    t.Category(),
		Parameters: map[string]tools.Param{
			"query": {
				Type:        "string",
				Description: "The query text to execute.",
				Required:    true,
			},
		},
		Timeout:     60 * time.Second,
		SideEffects: true,
	}
}

// Execute implements tools.Tool.
func (t *ExecuteQueryTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	query, _ := params["query"].(string)
	result, err := t.provider.ExecuteQuery(ctx, query)
	if err != nil {
		return &tools.Result{Success: false, Error: err.Error()}, nil
	}

	return &tools.Result{
		Success: true,
		Output:  formatQueryResult(result),
		Data: map[string]any{
			"last_result": map[string]any{
				"columns":   anySlice(result.Columns),
				"row_count": result.RowCount,
			},
		},
	}, nil
}

// AnalyzeResultsTool summarizes the most recent query result.
type AnalyzeResultsTool struct{}

// NewAnalyzeResultsTool creates the tool.
func NewAnalyzeResultsTool() *AnalyzeResultsTool {
	return &AnalyzeResultsTool{}
}

// Name implements tools.Tool.
func (t *AnalyzeResultsTool) Name() string { return "analyze_results" }

// Category implements tools.Tool.
func (t *AnalyzeResultsTool) Category() tools.Category { return tools.CategoryAnalyze }

// Definition implements tools.Tool.
func (t *AnalyzeResultsTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        t.Name(),
		Description: "Summarize a block of query results: row count, columns, and notable values.",
		Category:    t.Category(),
		Parameters: map[string]tools.Param{
			"results": {
				Type:        "string",
				Description: "The result text to analyze.",
				Required:    true,
			},
		},
		Timeout: 15 * time.Second,
	}
}

// Execute implements tools.Tool.
func (t *AnalyzeResultsTool) Execute(_ context.Context, params map[string]any) (*tools.Result, error) {
	results, _ := params["results"].(string)
	lines := strings.Count(results, "\n") + 1

	return &tools.Result{
		Success: true,
		Output: fmt.Sprintf("Result block spans %d lines and %d characters. "+
			"Inspect the first rows for column layout before aggregating.", lines, len(results)),
	}, nil
}

// formatQueryResult renders a result table as model-readable text.
func formatQueryResult(result *QueryResult) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%d row(s) in %s\n", result.RowCount, result.Duration))
	builder.WriteString(strings.Join(result.Columns, " | "))
	builder.WriteString("\n")

	const maxRows = 20
	for i, row := range result.Rows {
		if i >= maxRows {
			builder.WriteString(fmt.Sprintf("... %d more row(s)\n", len(result.Rows)-maxRows))
			break
		}
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = fmt.Sprint(cell)
		}
		builder.WriteString(strings.Join(cells, " | "))
		builder.WriteString("\n")
	}
	return builder.String()
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
