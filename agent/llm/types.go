// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the model adapter layer: a backend-neutral
// request/response shape, token-budgeted prompt composition, and
// concrete clients for OpenAI-compatible, Ollama, and Gemini APIs.
package llm

import "github.com/queryforge/queryforge/agent/tools"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem is the system prompt role.
	RoleSystem Role = "system"

	// RoleUser is the end-user role.
	RoleUser Role = "user"

	// RoleAssistant is the model's role.
	RoleAssistant Role = "assistant"

	// RoleTool carries a tool execution result back to the model.
	RoleTool Role = "tool"
)

// Message is one turn in the conversation history.
type Message struct {
	// Role is the message author.
	Role Role `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is the tool name for RoleTool messages.
	Name string `json:"name,omitempty"`

	// ToolCalls are the invocations a RoleAssistant message requested.
	// Backends require the requesting turn on the wire before its
	// RoleTool answers.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	// ID is the backend-assigned call identifier.
	ID string `json:"id"`

	// Name is the requested tool's name.
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload.
	Arguments string `json:"arguments"`
}

// Request is a backend-neutral completion request.
type Request struct {
	// System is the composed system prompt.
	System string `json:"system,omitempty"`

	// Messages is the conversation history, oldest first.
	Messages []Message `json:"messages"`

	// Tools declares the tools the model may call.
	Tools []tools.Definition `json:"tools,omitempty"`

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness.
	Temperature float32 `json:"temperature,omitempty"`
}

// Response is a backend-neutral completion response.
type Response struct {
	// Content is the model's text reply. Empty when the model chose
	// to call tools instead.
	Content string `json:"content"`

	// ToolCalls are the tool invocations the model requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// StopReason is the backend's finish reason ("stop", "tool_calls",
	// "length", ...).
	StopReason string `json:"stop_reason"`

	// TokensIn is the prompt token count reported by the backend.
	TokensIn int `json:"tokens_in"`

	// TokensOut is the completion token count reported by the backend.
	TokensOut int `json:"tokens_out"`

	// Model is the model identifier that served the request.
	Model string `json:"model"`
}

// HasToolCalls reports whether the model requested tool execution.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}
