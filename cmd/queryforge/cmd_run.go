// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/queryforge/queryforge/agent"
	"github.com/queryforge/queryforge/agent/events"
	"github.com/queryforge/queryforge/agent/llm"
	"github.com/queryforge/queryforge/config"
	"github.com/queryforge/queryforge/datasource"
	"github.com/queryforge/queryforge/telemetry"
)

func newRunCmd() *cobra.Command {
	var (
		resourceID string
		iterations int
		hint       string
		demo       bool
	)

	cmd := &cobra.Command{
		Use:   "run [goal...]",
		Short: "Run one generation session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := telemetry.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			tcfg := telemetry.DefaultConfig()
			if cfg.Telemetry.TraceExporter != "" {
				tcfg.TraceExporter = cfg.Telemetry.TraceExporter
			}
			if cfg.Telemetry.MetricExporter != "" {
				tcfg.MetricExporter = cfg.Telemetry.MetricExporter
			}
			shutdown, err := telemetry.Init(ctx, tcfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Warn("telemetry shutdown", "error", err)
				}
			}()

			client, err := buildClient(ctx, cfg)
			if err != nil {
				return err
			}

			provider, err := buildProvider(demo)
			if err != nil {
				return err
			}

			opts := agent.Options{
				MaxIterations:   cfg.Engine.MaxIterations,
				TokenBudget:     cfg.Engine.TokenBudget,
				RetrievalTopK:   cfg.Engine.RetrievalTopK,
				RetrievalBudget: cfg.Engine.RetrievalBudget,
				ToolConcurrency: cfg.Engine.ToolConcurrency,
				MaxRetries:      cfg.Engine.MaxRetries,
				WallClockLimit:  cfg.Engine.WallClockLimit,
				Temperature:     cfg.Model.Temperature,
				Logger:          logger,
			}

			if cfg.Journal.Enabled {
				journal, err := events.OpenJournal(cfg.Journal.Path, logger)
				if err != nil {
					return err
				}
				defer journal.Close()
				opts.Handlers = append(opts.Handlers, journal.Handler())
			}

			engine, err := agent.NewEngine(client, provider, opts)
			if err != nil {
				return err
			}

			session := &agent.Session{
				Goal:           strings.Join(args, " "),
				ResourceID:     resourceID,
				MaxIterations:  iterations,
				ComplexityHint: hint,
			}

			resp, err := engine.Execute(ctx, session)
			if err != nil {
				return err
			}

			printResponse(resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&resourceID, "resource", "demo", "datasource resource identifier")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "override the iteration bound")
	cmd.Flags().StringVar(&hint, "complexity", "", "complexity hint: low, medium, or high")
	cmd.Flags().BoolVar(&demo, "demo", true, "use the built-in demo datasource")
	return cmd
}

// buildClient constructs the configured backend and wraps it with the
// rate limiter and per-call timeout.
func buildClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	var (
		inner llm.Client
		err   error
	)
	switch cfg.Model.Provider {
	case "openai":
		inner, err = llm.NewOpenAIClient(cfg.Model.APIKey(), cfg.Model.Name, cfg.Model.BaseURL)
	case "ollama":
		inner, err = llm.NewOllamaClient(cfg.Model.BaseURL, cfg.Model.Name)
	case "genai":
		inner, err = llm.NewGenAIClient(ctx, cfg.Model.APIKey(), cfg.Model.Name)
	default:
		err = fmt.Errorf("unknown model provider: %s", cfg.Model.Provider)
	}
	if err != nil {
		return nil, err
	}
	return llm.NewThrottledClient(inner, cfg.Model.RequestsPerSecond, cfg.Model.RequestTimeout), nil
}

// buildProvider returns the datasource. Only the built-in demo schema
// ships today; real providers register here.
func buildProvider(demo bool) (datasource.Provider, error) {
	if !demo {
		return nil, fmt.Errorf("no datasource provider configured; run with --demo")
	}
	return datasource.NewMockProvider(demoEntities()), nil
}

// demoEntities is a small retail schema for trying the loop end to end.
func demoEntities() []datasource.Entity {
	return []datasource.Entity{
		{
			Name:        "orders",
			Description: "customer purchase orders",
			Fields: []datasource.Field{
				{Name: "id", Type: "int", Description: "order identifier"},
				{Name: "customer_id", Type: "int", Description: "owning customer"},
				{Name: "total", Type: "decimal", Description: "order total in cents"},
				{Name: "placed_at", Type: "timestamp", Description: "time of purchase"},
			},
		},
		{
			Name:        "customers",
			Description: "registered customers",
			Fields: []datasource.Field{
				{Name: "id", Type: "int"},
				{Name: "name", Type: "string"},
				{Name: "email", Type: "string"},
				{Name: "created_at", Type: "timestamp"},
			},
		},
		{
			Name:        "inventory",
			Description: "warehouse stock levels by SKU",
			Fields: []datasource.Field{
				{Name: "sku", Type: "string"},
				{Name: "quantity", Type: "int"},
				{Name: "updated_at", Type: "timestamp"},
			},
		},
	}
}

// printResponse renders the final response for the terminal.
func printResponse(resp *agent.Response) {
	fmt.Println("---")
	if resp.Partial {
		fmt.Println("PARTIAL RESULT (iteration bound reached)")
	}
	fmt.Printf("Artifact:\n%s\n\n", resp.Artifact)
	if resp.Reasoning != "" {
		fmt.Printf("Reasoning: %s\n", resp.Reasoning)
	}
	fmt.Printf("Validated: %v  Quality: %.2f  Iterations: %d  Tools: %d  Repairs: %d\n",
		resp.Validated, resp.Quality, resp.Iterations, len(resp.ToolCalls), resp.RepairAttempts)
	fmt.Printf("Tokens: %d in / %d out  Duration: %s\n",
		resp.TokensIn, resp.TokensOut, resp.Duration.Round(time.Millisecond))
}
