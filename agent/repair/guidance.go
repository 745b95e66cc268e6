// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

// Guidance returns category-specific instructions appended to the
// regeneration prompt. The text steers the model toward the inspection
// tools instead of letting it guess a correction.
func Guidance(errorType ErrorType) string {
	switch errorType {
	case ErrorSyntax:
		return "The previous attempt was syntactically invalid. Rewrite it from " +
			"scratch following the target syntax exactly; do not patch the broken text."
	case ErrorEntityNotFound:
		return "The previous attempt referenced an entity that does not exist. " +
			"Use only entity names from the schema context, or call discover_entities " +
			"to list what is available."
	case ErrorFieldNotFound:
		return "The previous attempt referenced a field that does not exist on " +
			"that entity. Call the describe_entity tool to get the entity's exact " +
			"field list, then use only those field names."
	case ErrorConnection:
		return "The datasource could not be reached. The artifact itself may be " +
			"correct; report the connectivity problem rather than rewriting it."
	case ErrorPermission:
		return "Access was denied. Do not retry with the same resource; report " +
			"the permission problem."
	case ErrorTypeMismatch:
		return "The previous attempt compared or combined incompatible types. " +
			"Check the field types in the schema context and adjust operands or casts."
	default:
		return "The previous attempt failed validation. Review the error message " +
			"and the schema context, then produce a corrected version."
	}
}
