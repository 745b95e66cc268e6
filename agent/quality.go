// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

// qualityInputs are the signals the score is computed from.
type qualityInputs struct {
	hasArtifact      bool
	validationPassed bool
	iterations       int
	maxIterations    int
	toolCalls        int
	toolSuccesses    int
	partial          bool
}

// scoreQuality computes a heuristic confidence in [0, 1].
//
// An artifact is worth 0.4, a passing validation 0.3, iteration
// efficiency up to 0.2, and tool success rate up to 0.1. Soft
// terminations halve the score: a partial answer is never presented
// with full confidence.
func scoreQuality(in qualityInputs) float64 {
	var score float64

	if in.hasArtifact {
		score += 0.4
	}
	if in.validationPassed {
		score += 0.3
	}

	if in.maxIterations > 0 && in.iterations > 0 {
		efficiency := 1.0 - float64(in.iterations-1)/float64(in.maxIterations)
		if efficiency < 0 {
			efficiency = 0
		}
		score += 0.2 * efficiency
	}

	if in.toolCalls > 0 {
		score += 0.1 * float64(in.toolSuccesses) / float64(in.toolCalls)
	} else {
		score += 0.1
	}

	if in.partial {
		score *= 0.5
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
