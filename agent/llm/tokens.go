// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "unicode"

// Tokenizer estimates token counts for budget accounting. Estimates
// only need to be conservative enough that composed prompts stay under
// backend limits; they are never used for billing.
type Tokenizer interface {
	// Count returns the estimated token count of text.
	Count(text string) int
}

// HeuristicTokenizer estimates without a model-specific vocabulary.
// Latin-script text averages roughly four characters per token; dense
// scripts (Han, Kana, Hangul, Thai) tokenize close to one token per
// rune, so mixed text is counted per rune class.
type HeuristicTokenizer struct{}

// latinCharsPerToken approximates BPE behavior on English-like text.
const latinCharsPerToken = 4

// Count implements Tokenizer.
func (HeuristicTokenizer) Count(text string) int {
	if text == "" {
		return 0
	}

	var dense, sparse int
	for _, r := range text {
		if isDenseScript(r) {
			dense++
		} else {
			sparse++
		}
	}

	tokens := dense + (sparse+latinCharsPerToken-1)/latinCharsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// isDenseScript reports whether r belongs to a script where one rune
// approximates one token.
func isDenseScript(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r) ||
		unicode.Is(unicode.Thai, r)
}
