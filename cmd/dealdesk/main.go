// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command dealdesk runs the due diligence agent: "serve" starts the
// HTTP service, "eval" replays the evaluation scenarios against a
// wired agent and reports regressions.
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dealdesk/dealdesk/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "dealdesk",
	Short: "Due diligence agent service",
}

var appLogger *logging.Logger

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := logging.LevelInfo
		if os.Getenv("DEALDESK_LOG_LEVEL") == "debug" {
			level = logging.LevelDebug
		}
		appLogger = logging.New(logging.Config{
			Level:   level,
			LogDir:  os.Getenv("DEALDESK_LOG_DIR"),
			Service: cmd.Name(),
			JSON:    true,
		})
		slog.SetDefault(appLogger.Slog())
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			_ = appLogger.Close()
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evalCmd)
}
