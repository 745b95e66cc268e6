// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package repair classifies validation and execution failures and
// drives bounded regeneration attempts through a small state machine.
package repair

import "strings"

// ErrorType is a coarse failure category. Classification drives the
// guidance injected into the regeneration prompt.
type ErrorType string

const (
	// ErrorSyntax is a malformed artifact.
	ErrorSyntax ErrorType = "syntax_error"

	// ErrorEntityNotFound references a nonexistent entity.
	ErrorEntityNotFound ErrorType = "entity_not_found"

	// ErrorFieldNotFound references a nonexistent field on a real entity.
	ErrorFieldNotFound ErrorType = "field_not_found"

	// ErrorConnection is a datasource transport failure.
	ErrorConnection ErrorType = "connection_error"

	// ErrorPermission is an authorization failure.
	ErrorPermission ErrorType = "permission_error"

	// ErrorTypeMismatch is an operand or comparison type failure.
	ErrorTypeMismatch ErrorType = "type_error"

	// ErrorUnknown is anything the patterns don't cover.
	ErrorUnknown ErrorType = "unknown"
)

// classPattern maps a substring to a category. Patterns are checked in
// order; field patterns come before entity patterns because messages
// like "unknown field x on entity y" mention both.
type classPattern struct {
	substr string
	class  ErrorType
}

var classPatterns = []classPattern{
	{"unknown field", ErrorFieldNotFound},
	{"field not found", ErrorFieldNotFound},
	{"no such column", ErrorFieldNotFound},
	{"unknown column", ErrorFieldNotFound},

	{"entity not found", ErrorEntityNotFound},
	{"unknown entity", ErrorEntityNotFound},
	{"no such table", ErrorEntityNotFound},
	{"unknown table", ErrorEntityNotFound},

	{"connection refused", ErrorConnection},
	{"connection reset", ErrorConnection},
	{"timeout", ErrorConnection},
	{"timed out", ErrorConnection},
	{"unavailable", ErrorConnection},

	{"permission denied", ErrorPermission},
	{"unauthorized", ErrorPermission},
	{"forbidden", ErrorPermission},
	{"access denied", ErrorPermission},

	{"type mismatch", ErrorTypeMismatch},
	{"cannot convert", ErrorTypeMismatch},
	{"incompatible type", ErrorTypeMismatch},

	{"syntax", ErrorSyntax},
	{"parse error", ErrorSyntax},
	{"unexpected token", ErrorSyntax},
	{"malformed", ErrorSyntax},
}

// Classify maps an error message to its ErrorType. Matching is
// case-insensitive substring search in pattern order.
func Classify(message string) ErrorType {
	lower := strings.ToLower(message)
	for _, p := range classPatterns {
		if strings.Contains(lower, p.substr) {
			return p.class
		}
	}
	return ErrorUnknown
}

// Retryable reports whether regeneration can plausibly fix errors of
// this type. Connection and permission failures are environmental, so
// regenerating the artifact cannot help.
func (e ErrorType) Retryable() bool {
	switch e {
	case ErrorConnection, ErrorPermission:
		return false
	default:
		return true
	}
}
