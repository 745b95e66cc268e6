// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pool provides the canonical full-detail resource store for a
// single engine run, decoupled from the small per-turn memory that is
// passed through the reasoning loop.
//
// The pool holds full-size artifacts (datasource schema, template
// context, generated-artifact history, validation history). The loop
// never carries these directly; each turn it rebuilds a fixed-shape
// ContextMemory snapshot whose size is independent of how many entities
// are cached and how many iterations have run.
package pool

// Well-known pool keys. Callers may add their own keys; merge semantics
// apply uniformly.
const (
	// KeySchema holds the per-entity schema detail as a map keyed by
	// entity name. Map-valued: merges key-wise on update.
	KeySchema = "schema"

	// KeyTemplateContext holds opaque generation context. Map-valued.
	KeyTemplateContext = "template_context"

	// KeyArtifactHistory holds every generated artifact in order.
	// List-valued: append-only.
	KeyArtifactHistory = "artifact_history"

	// KeyValidationHistory holds every validation outcome in order.
	// List-valued: append-only.
	KeyValidationHistory = "validation_history"
)

// StepType selects which minimal bundle ExtractForStep returns.
type StepType string

const (
	// StepGeneration receives the full schema plus template context.
	StepGeneration StepType = "generation"

	// StepValidation receives the latest artifact plus the schema.
	StepValidation StepType = "validation"

	// StepRepair receives the latest artifact, prior validation errors,
	// and the schema.
	StepRepair StepType = "repair"
)

// Bounds on the lightweight memory snapshot. These caps are what make
// ContextMemory O(1) with respect to pool size and iteration count.
const (
	// maxMemoryEntityNames caps the entity-name list in ContextMemory.
	maxMemoryEntityNames = 10

	// maxMemoryErrorLen caps the LastError string in ContextMemory.
	maxMemoryErrorLen = 200
)

// ContextMemory is the fixed-shape snapshot passed between turns
// instead of full resources.
//
// Its size is bounded by construction: EntityNames holds at most
// maxMemoryEntityNames names and LastError at most maxMemoryErrorLen
// characters, regardless of how large the pool grows.
type ContextMemory struct {
	// HasArtifact reports whether any artifact has been generated.
	HasArtifact bool `json:"has_artifact"`

	// SchemaAvailable reports whether any entity schema is cached.
	SchemaAvailable bool `json:"schema_available"`

	// ValidationPassed reports the outcome of the most recent validation.
	ValidationPassed bool `json:"validation_passed"`

	// EntityNames lists up to maxMemoryEntityNames known entity names,
	// sorted for determinism.
	EntityNames []string `json:"entity_names"`

	// ArtifactCount is the number of artifacts generated so far.
	ArtifactCount int `json:"artifact_count"`

	// ErrorCount is the number of failed validations so far.
	ErrorCount int `json:"error_count"`

	// LastError is the most recent validation error, truncated.
	LastError string `json:"last_error,omitempty"`
}
