// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command queryforge runs the generation engine from the terminal.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "queryforge",
		Short: "QueryForge generates validated queries through a tool-using model loop",
		Long: `QueryForge drives a language model through discover/generate/validate
iterations against a datasource schema until a validated query emerges.`,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file path (default ~/.queryforge/queryforge.yaml)")
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newReplayCmd())
}
