// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assembly

import (
	"log/slog"
	"sort"
	"strings"
)

// Assembler packs components into a token budget.
//
// Thread Safety:
//
//	Assembler is safe for concurrent use after construction.
type Assembler struct {
	logger *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger used for overflow and truncation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssembler creates a new assembler.
//
// Outputs:
//
//	*Assembler - The configured assembler.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble composes components into a single text within maxTokens.
//
// Description:
//
//	Includes every CRITICAL component unconditionally, then adds the
//	remaining components in descending priority order while the running
//	token total stays within budget. Once the budget is reached, lower
//	priority components are recorded as truncated. CRITICAL content that
//	alone exceeds the budget is included anyway and logged as a warning;
//	this is the single documented exception to the budget invariant.
//
// Inputs:
//
//	components - Candidate components. Order within a priority tier is
//	             preserved (stable).
//	maxTokens - The token budget. Non-positive budgets include only
//	            CRITICAL components.
//
// Outputs:
//
//	string - The assembled text.
//	Summary - Token totals plus included and truncated component names.
//
// Thread Safety: This method is safe for concurrent use.
func (a *Assembler) Assemble(components []Component, maxTokens int) (string, Summary) {
	summary := Summary{
		Included:  make([]string, 0, len(components)),
		Truncated: make([]string, 0),
	}

	ordered := make([]Component, len(components))
	copy(ordered, components)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var builder strings.Builder
	budgetReached := false

	for _, comp := range ordered {
		cost := comp.TokenCost
		if cost == 0 {
			cost = EstimateTokens(comp.Content)
		}

		if comp.Priority == PriorityCritical {
			if summary.TotalTokens+cost > maxTokens {
				summary.CriticalOverflow = true
				a.logger.Warn("critical component exceeds context budget",
					"component", comp.Name,
					"cost", cost,
					"budget", maxTokens,
					"running_total", summary.TotalTokens,
				)
			}
			a.write(&builder, comp)
			summary.TotalTokens += cost
			summary.Included = append(summary.Included, comp.Name)
			continue
		}

		if budgetReached || summary.TotalTokens+cost > maxTokens {
			// Stop adding lower-priority components once the budget is hit.
			budgetReached = true
			summary.Truncated = append(summary.Truncated, comp.Name)
			continue
		}

		a.write(&builder, comp)
		summary.TotalTokens += cost
		summary.Included = append(summary.Included, comp.Name)
	}

	if len(summary.Truncated) > 0 {
		a.logger.Debug("context components dropped",
			"dropped", summary.Truncated,
			"budget", maxTokens,
			"total_tokens", summary.TotalTokens,
		)
	}

	return builder.String(), summary
}

// write appends a component as a named section.
func (a *Assembler) write(builder *strings.Builder, comp Component) {
	if builder.Len() > 0 {
		builder.WriteString("\n\n")
	}
	builder.WriteString("## ")
	builder.WriteString(comp.Name)
	builder.WriteString("\n\n")
	builder.WriteString(comp.Content)
}
