// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assembly provides the priority-ordered, token-budgeted context
// compositor used across the engine.
//
// The assembler is the single place where "what the model sees" is decided.
// It is used twice per turn: once by the retriever to pack dynamic schema
// snippets under a sub-budget, and once by the orchestrator to compose the
// static session context.
//
// Design principles:
//   - CRITICAL components are never dropped, even over budget (logged)
//   - Remaining components are packed in descending priority order
//   - Dropped components are always recorded, never silently discarded
package assembly

// Priority controls inclusion order and droppability of a component.
type Priority int

const (
	// PriorityLow components are the first to be dropped under pressure.
	PriorityLow Priority = iota

	// PriorityMedium components are dropped after LOW.
	PriorityMedium

	// PriorityHigh components are dropped only when the budget is nearly
	// consumed by CRITICAL content.
	PriorityHigh

	// PriorityCritical components are always included, even if they alone
	// exceed the budget. Overflow is logged as a warning.
	PriorityCritical
)

// String returns the priority name used in logs and summaries.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Component is one named piece of candidate context.
//
// Components are ephemeral: they are constructed for a single Assemble
// call and not retained afterwards.
type Component struct {
	// Name identifies the component in summaries and logs.
	Name string

	// Content is the text to include.
	Content string

	// Priority controls inclusion order.
	Priority Priority

	// TokenCost is the estimated token cost of Content. If zero, the
	// assembler estimates it from the content length.
	TokenCost int
}

// Summary reports what an Assemble call included and dropped.
type Summary struct {
	// TotalTokens is the token cost of everything included.
	TotalTokens int `json:"total_tokens"`

	// Included lists component names in inclusion order.
	Included []string `json:"included"`

	// Truncated lists component names that did not fit the budget.
	Truncated []string `json:"truncated"`

	// CriticalOverflow is true when CRITICAL content alone exceeded the
	// budget. This is the documented exception to the budget invariant.
	CriticalOverflow bool `json:"critical_overflow"`
}

// charsPerToken is the approximation ratio for token estimation.
// Conservative estimate for mixed prose and query text.
const charsPerToken = 3.5

// EstimateTokens estimates the token cost of a text from its length.
func EstimateTokens(text string) int {
	return int(float64(len(text)) / charsPerToken)
}
