// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the QueryForge configuration file.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model" validate:"required"`
	Engine    EngineConfig    `yaml:"engine"`
	Journal   JournalConfig   `yaml:"journal"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ModelConfig selects and tunes the completion backend.
type ModelConfig struct {
	// Provider is the backend: openai, ollama, or genai.
	Provider string `yaml:"provider" validate:"required,oneof=openai ollama genai"`

	// Name is the model identifier.
	Name string `yaml:"name" validate:"required"`

	// BaseURL overrides the backend endpoint (OpenAI-compatible servers,
	// local Ollama).
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in the config file.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Temperature controls sampling randomness.
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`

	// RequestsPerSecond throttles the backend. Zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// RequestTimeout bounds one completion call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// EngineConfig tunes the orchestrator loop.
type EngineConfig struct {
	MaxIterations   int           `yaml:"max_iterations" validate:"gte=0,lte=100"`
	TokenBudget     int           `yaml:"token_budget" validate:"gte=0"`
	RetrievalTopK   int           `yaml:"retrieval_top_k" validate:"gte=0,lte=50"`
	RetrievalBudget int           `yaml:"retrieval_budget" validate:"gte=0"`
	ToolConcurrency int           `yaml:"tool_concurrency" validate:"gte=0,lte=16"`
	MaxRetries      int           `yaml:"max_retries" validate:"gte=0,lte=5"`
	WallClockLimit  time.Duration `yaml:"wall_clock_limit"`
}

// JournalConfig controls the durable event journal.
type JournalConfig struct {
	// Enabled turns journaling on.
	Enabled bool `yaml:"enabled"`

	// Path is the journal directory. Required when Enabled.
	Path string `yaml:"path,omitempty" validate:"required_if=Enabled true"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// TelemetryConfig controls trace and metric export.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=stdout none"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			Provider:          "ollama",
			Name:              "qwen2.5-coder",
			BaseURL:           "http://localhost:11434",
			Temperature:       0.2,
			RequestsPerSecond: 1,
			RequestTimeout:    2 * time.Minute,
		},
		Engine: EngineConfig{
			MaxIterations:   10,
			TokenBudget:     8000,
			RetrievalTopK:   5,
			RetrievalBudget: 4000,
			ToolConcurrency: 2,
			MaxRetries:      1,
			WallClockLimit:  5 * time.Minute,
		},
		Journal: JournalConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
		},
	}
}
