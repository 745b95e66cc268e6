// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/queryforge/queryforge/agent/events"
	"github.com/queryforge/queryforge/config"
	"github.com/queryforge/queryforge/telemetry"
)

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Replay a journaled run's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journaling is disabled in the config")
			}
			logger := telemetry.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			journal, err := events.OpenJournal(cfg.Journal.Path, logger)
			if err != nil {
				return err
			}
			defer journal.Close()

			stream, err := journal.ReadRun(args[0])
			if err != nil {
				return err
			}
			if len(stream) == 0 {
				return fmt.Errorf("no events journaled for run %s", args[0])
			}

			for _, event := range stream {
				line, err := json.Marshal(event)
				if err != nil {
					return err
				}
				fmt.Println(string(line))
			}
			return nil
		},
	}
}
