// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import "errors"

// Sentinel errors for the engine.
var (
	// ErrInvalidSession indicates the session failed validation.
	ErrInvalidSession = errors.New("agent: invalid session")

	// ErrLLMFailed indicates an unrecoverable backend failure.
	ErrLLMFailed = errors.New("agent: llm call failed")

	// ErrRunCanceled indicates the context was canceled mid-run.
	ErrRunCanceled = errors.New("agent: run canceled")

	// ErrNoProvider indicates the engine has no datasource wired.
	ErrNoProvider = errors.New("agent: no datasource provider configured")
)
