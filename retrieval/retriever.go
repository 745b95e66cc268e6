// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/queryforge/queryforge/assembly"
	"github.com/queryforge/queryforge/datasource"
)

// Stage tags where a run currently is. The retriever's scoring adapts
// to it: discovery boosts every entity uniformly, validation dampens.
type Stage string

const (
	// StageDiscovery is the schema-exploration stage.
	StageDiscovery Stage = "discovery"

	// StageGeneration is the artifact-generation stage.
	StageGeneration Stage = "generation"

	// StageValidation is the artifact-checking stage.
	StageValidation Stage = "validation"

	// StageRepair is the failure-recovery stage.
	StageRepair Stage = "repair"
)

// Multiplier returns the stage's score multiplier.
func (s Stage) Multiplier() float64 {
	switch s {
	case StageDiscovery:
		return 1.5
	case StageValidation:
		return 0.75
	default:
		return 1.0
	}
}

// Document is one ranked snippet produced by the retriever and
// consumed immediately by the assembler.
type Document struct {
	// ID uniquely identifies the document within a retrieval call.
	ID string `json:"id"`

	// Content is the formatted snippet text.
	Content string `json:"content"`

	// Score is the relevance score (higher is better).
	Score float64 `json:"score"`

	// Source is the owning entity's name.
	Source string `json:"source"`
}

// Scoring weights for the term-overlap relevance model.
const (
	nameWeight        = 3.0
	fieldWeight       = 2.0
	descriptionWeight = 1.0

	// DefaultSubBudget is the retriever's own token sub-budget, distinct
	// from the overall session budget.
	DefaultSubBudget = 4000

	// DefaultTopK is the default number of documents returned.
	DefaultTopK = 5
)

// Retriever turns a query string into ranked, budget-packed schema
// snippets. It is invoked by the orchestrator every turn, which is how
// entities discovered by tool calls become visible to the model on the
// very next turn without the context growing monotonically.
//
// Thread Safety: Retriever is safe for concurrent use after construction.
type Retriever struct {
	cache     *EntityCache
	assembler *assembly.Assembler
	subBudget int
	logger    *slog.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithSubBudget overrides the retriever's token sub-budget.
func WithSubBudget(tokens int) RetrieverOption {
	return func(r *Retriever) {
		if tokens > 0 {
			r.subBudget = tokens
		}
	}
}

// WithRetrieverLogger sets the retriever's logger.
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRetriever creates a retriever over an entity cache.
func NewRetriever(cache *EntityCache, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		cache:     cache,
		assembler: assembly.NewAssembler(),
		subBudget: DefaultSubBudget,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to topK documents ranked by relevance to query.
//
// Description:
//
//	Relevance is the weighted term overlap between the query and each
//	entity's name, field names, and description, scaled by the stage
//	multiplier. Entities with zero overlap are excluded, so an
//	unmatched query returns an empty slice.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	query - The query text (goal plus newly surfaced entity names).
//	stage - The run's current stage.
//	topK - Maximum documents to return; values < 1 use DefaultTopK.
//
// Outputs:
//
//	[]Document - Ranked documents, highest score first.
//	error - ErrCacheNotInitialized when the cache is not ready.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Retriever) Retrieve(ctx context.Context, query string, stage Stage, topK int) ([]Document, error) {
	if !r.cache.Ready() {
		return nil, ErrCacheNotInitialized
	}
	if topK < 1 {
		topK = DefaultTopK
	}

	terms := extractTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	multiplier := stage.Multiplier()
	var docs []Document

	for _, entity := range r.cache.Entities() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		score := scoreEntity(entity, terms) * multiplier
		if score <= 0 {
			continue
		}
		docs = append(docs, Document{
			ID:      "entity:" + entity.Name,
			Content: formatEntity(entity),
			Score:   score,
			Source:  entity.Name,
		})
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
	if len(docs) > topK {
		docs = docs[:topK]
	}

	r.logger.Debug("retrieval complete",
		"stage", string(stage),
		"terms", len(terms),
		"matched", len(docs),
	)
	return docs, nil
}

// Format packs documents into text under the retriever's sub-budget.
//
// Description:
//
//	A zero-document input returns empty text; the orchestrator then
//	proceeds with static components only. The top-ranked document is
//	HIGH priority, the rest MEDIUM, so budget pressure preserves the
//	best match.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Retriever) Format(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}

	components := make([]assembly.Component, 0, len(docs))
	for i, doc := range docs {
		priority := assembly.PriorityMedium
		if i == 0 {
			priority = assembly.PriorityHigh
		}
		components = append(components, assembly.Component{
			Name:     doc.Source,
			Content:  doc.Content,
			Priority: priority,
		})
	}

	text, summary := r.assembler.Assemble(components, r.subBudget)
	if len(summary.Truncated) > 0 {
		r.logger.Debug("retrieved documents truncated",
			"truncated", summary.Truncated,
			"sub_budget", r.subBudget,
		)
	}
	return text
}

// scoreEntity computes the weighted term overlap for one entity.
func scoreEntity(entity datasource.Entity, terms []string) float64 {
	nameLower := strings.ToLower(entity.Name)
	descLower := strings.ToLower(entity.Description)

	fieldsLower := make([]string, len(entity.Fields))
	for i, f := range entity.Fields {
		fieldsLower[i] = strings.ToLower(f.Name)
	}

	var score float64
	for _, term := range terms {
		if term == nameLower || strings.Contains(nameLower, term) {
			score += nameWeight
		}
		for _, field := range fieldsLower {
			if term == field || strings.Contains(field, term) {
				score += fieldWeight
				break
			}
		}
		if descLower != "" && strings.Contains(descLower, term) {
			score += descriptionWeight
		}
	}
	return score
}

// formatEntity renders one entity as a schema snippet.
func formatEntity(entity datasource.Entity) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Entity: %s", entity.Name))
	if entity.Description != "" {
		builder.WriteString(" — ")
		builder.WriteString(entity.Description)
	}
	builder.WriteString("\nFields:")
	for _, f := range entity.Fields {
		builder.WriteString(fmt.Sprintf("\n  - %s (%s)", f.Name, f.Type))
		if f.Description != "" {
			builder.WriteString(": ")
			builder.WriteString(f.Description)
		}
	}
	return builder.String()
}

// stopWords are filtered out of queries before scoring.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "for": true,
	"in": true, "on": true, "at": true, "by": true, "with": true,
	"all": true, "and": true, "or": true, "of": true, "from": true,
	"get": true, "list": true, "show": true, "find": true, "query": true,
	"how": true, "what": true, "where": true, "when": true, "why": true,
}

// extractTerms splits a query into lowercase scoring terms.
func extractTerms(query string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '(', ')', '"', '\'', '?', '!', ';', ':':
			return ' '
		default:
			return r
		}
	}, query)

	var terms []string
	for _, part := range strings.Fields(cleaned) {
		lower := strings.ToLower(part)
		if len(lower) >= 3 && !stopWords[lower] {
			terms = append(terms, lower)
		}
	}
	return terms
}
