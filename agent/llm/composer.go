// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Composed is the composer's output: a system prompt plus the history
// that fit inside the budget, along with what was cut to get there.
type Composed struct {
	// System is the system prompt (static plus dynamic context).
	System string

	// Messages is the surviving history, oldest first.
	Messages []Message

	// DroppedMessages counts history messages cut for budget.
	DroppedMessages int

	// DynamicTruncated reports whether dynamic context was clipped to
	// fit the system reservation.
	DynamicTruncated bool

	// TotalTokens is the estimate for the composed prompt.
	TotalTokens int
}

// Composer packs a prompt into a token budget. The system prompt gets
// one third of the budget; history fills the rest newest-first, so
// older turns fall off while the most recent message always survives.
//
// Thread Safety: Composer is safe for concurrent use after construction.
type Composer struct {
	tokenizer Tokenizer
	logger    *slog.Logger
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithTokenizer overrides the default heuristic tokenizer.
func WithTokenizer(t Tokenizer) ComposerOption {
	return func(c *Composer) {
		if t != nil {
			c.tokenizer = t
		}
	}
}

// WithComposerLogger sets the composer's logger.
func WithComposerLogger(logger *slog.Logger) ComposerOption {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewComposer creates a Composer.
func NewComposer(opts ...ComposerOption) *Composer {
	c := &Composer{
		tokenizer: HeuristicTokenizer{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose builds the prompt for one model call.
//
// Description:
//
//	The static prompt is always included whole. Dynamic context (the
//	retrieved schema) is appended until the system reservation
//	(maxTokens/3) is exhausted, then clipped with a truncation log.
//	History is admitted newest-first against the remaining budget;
//	the newest message is always kept even when it alone overflows,
//	because a prompt without the latest turn cannot make progress.
//
// Inputs:
//
//	static - The fixed system prompt.
//	dynamic - Retrieved per-turn context, already budget-packed upstream.
//	history - The conversation so far, oldest first.
//	maxTokens - The total prompt budget; values < 1 disable budgeting.
//
// Outputs:
//
//	Composed - The packed prompt and trim accounting.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Composer) Compose(static, dynamic string, history []Message, maxTokens int) Composed {
	if maxTokens < 1 {
		return Composed{
			System:      joinSystem(static, dynamic),
			Messages:    history,
			TotalTokens: c.tokenizer.Count(joinSystem(static, dynamic)) + c.countMessages(history),
		}
	}

	systemBudget := maxTokens / 3
	system, truncated := c.packSystem(static, dynamic, systemBudget)
	systemTokens := c.tokenizer.Count(system)
	if truncated {
		c.logger.Warn("dynamic context truncated to fit system reservation",
			"system_budget", systemBudget,
			"system_tokens", systemTokens,
		)
	}

	historyBudget := maxTokens - systemTokens
	messages, dropped, historyTokens := c.packHistory(history, historyBudget)
	if dropped > 0 {
		c.logger.Info("history trimmed for token budget",
			"dropped", dropped,
			"kept", len(messages),
			"history_budget", historyBudget,
		)
	}

	total := systemTokens + historyTokens
	if total > maxTokens {
		// Only possible when the newest message, or the tool-call turn
		// it depends on, overflows on its own; the call proceeds and
		// the backend enforces its own hard limit.
		c.logger.Warn("composed prompt exceeds budget",
			"total_tokens", total,
			"max_tokens", maxTokens,
		)
	}

	return Composed{
		System:           system,
		Messages:         messages,
		DroppedMessages:  dropped,
		DynamicTruncated: truncated,
		TotalTokens:      total,
	}
}

// packSystem joins static and dynamic context under budget. Static text
// is never cut; dynamic text absorbs all the clipping.
func (c *Composer) packSystem(static, dynamic string, budget int) (string, bool) {
	if dynamic == "" {
		return static, false
	}

	joined := joinSystem(static, dynamic)
	if c.tokenizer.Count(joined) <= budget {
		return joined, false
	}

	staticTokens := c.tokenizer.Count(static)
	remaining := budget - staticTokens - 1
	if remaining <= 0 {
		return static, true
	}

	// Clip by the Latin heuristic, then back off until under budget.
	clipped := dynamic
	if maxChars := remaining * latinCharsPerToken; len(clipped) > maxChars {
		clipped = clipBytes(clipped, maxChars)
	}
	for clipped != "" && c.tokenizer.Count(joinSystem(static, clipped)) > budget {
		cut := len(clipped) / 8
		if cut == 0 {
			cut = 1
		}
		clipped = clipBytes(clipped, len(clipped)-cut)
	}
	return joinSystem(static, strings.TrimRight(clipped, " \n")), true
}

// clipBytes cuts s to at most n bytes without splitting a rune.
func clipBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// packHistory admits messages newest-first within budget. Returns the
// kept messages in original (oldest-first) order.
func (c *Composer) packHistory(history []Message, budget int) ([]Message, int, int) {
	if len(history) == 0 {
		return nil, 0, 0
	}

	var kept []Message
	var total int
	for i := len(history) - 1; i >= 0; i-- {
		cost := c.messageCost(history[i])
		if total+cost > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, history[i])
		total += cost
	}

	// Reverse back to chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	// A tool result is only valid on the wire after the assistant turn
	// that requested it. When the cut orphans leading tool results,
	// drop them; when the orphans include the newest turn, pull the
	// requesting turn back in instead, mirroring the newest-message
	// exception.
	if len(kept) > 0 && kept[0].Role == RoleTool {
		if kept[len(kept)-1].Role == RoleTool {
			firstIdx := len(history) - len(kept)
			for firstIdx > 0 && kept[0].Role == RoleTool {
				firstIdx--
				kept = append([]Message{history[firstIdx]}, kept...)
				total += c.messageCost(history[firstIdx])
			}
		} else {
			for len(kept) > 0 && kept[0].Role == RoleTool {
				total -= c.messageCost(kept[0])
				kept = kept[1:]
			}
		}
	}
	return kept, len(history) - len(kept), total
}

// messageCost estimates one message's share of the budget, including
// tool-call arguments and role framing overhead.
func (c *Composer) messageCost(m Message) int {
	cost := c.tokenizer.Count(m.Content) + 4
	for _, tc := range m.ToolCalls {
		cost += c.tokenizer.Count(tc.Arguments)
	}
	return cost
}

func (c *Composer) countMessages(messages []Message) int {
	var total int
	for _, m := range messages {
		total += c.messageCost(m)
	}
	return total
}

func joinSystem(static, dynamic string) string {
	if dynamic == "" {
		return static
	}
	if static == "" {
		return dynamic
	}
	return static + "\n\n" + dynamic
}
