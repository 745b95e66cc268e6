// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"

	"github.com/queryforge/queryforge/agent/tools"
)

var genaiTracer = otel.Tracer("queryforge.llm.genai")

// GenAIClient speaks the Gemini API via the official genai SDK.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates a Gemini client.
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: gemini api key is empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: gemini model is empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	slog.Info("Initializing Gemini client", "model", model)
	return &GenAIClient{client: client, model: model}, nil
}

// Name implements Client.
func (g *GenAIClient) Name() string { return "genai" }

// Model implements Client.
func (g *GenAIClient) Model() string { return g.model }

// Complete implements Client.
func (g *GenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := genaiTracer.Start(ctx, "GenAIClient.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.model))

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{
			FunctionDeclarations: toGenAIDeclarations(req.Tools),
		}}
	}

	contents := toGenAIContents(req.Messages)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: gemini: %v", ErrBackendUnavailable, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	out := &Response{
		StopReason: string(candidate.FinishReason),
		Model:      g.model,
	}
	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	for i, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("llm: marshal gemini function args: %w", err)
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("genai-call-%d", i)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		}
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}

	span.SetAttributes(
		attribute.Int("llm.tokens_in", out.TokensIn),
		attribute.Int("llm.tokens_out", out.TokensOut),
	)
	return out, nil
}

// toGenAIContents maps the conversation onto Gemini contents. Assistant
// tool requests become functionCall parts on a model turn; tool results
// become functionResponse parts on a user turn, so the wire history
// pairs every response with the call that produced it.
func toGenAIContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == RoleTool:
			part := genai.NewPartFromFunctionResponse(m.Name, map[string]any{
				"output": m.Content,
			})
			part.FunctionResponse.ID = m.ToolCallID
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{part},
			})
		case m.Role == RoleAssistant && len(m.ToolCalls) > 0:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						args = map[string]any{}
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: args,
				}})
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: parts,
			})
		case m.Role == RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents
}

// toGenAIDeclarations converts tool definitions into Gemini function
// declarations.
func toGenAIDeclarations(defs []tools.Definition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		properties := make(map[string]*genai.Schema, len(def.Parameters))
		var required []string
		for name, p := range def.Parameters {
			properties[name] = &genai.Schema{
				Type:        toGenAIType(p.Type),
				Description: p.Description,
			}
			if p.Required {
				required = append(required, name)
			}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   required,
			},
		})
	}
	return out
}

func toGenAIType(t string) genai.Type {
	switch t {
	case "number", "integer":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
