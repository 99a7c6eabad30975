// Package main is the relay CLI: a multi-channel, tool-using agent
// runtime.
//
// Start the runtime:
//
//	relay serve --config relay.yaml
//
// Manage scheduled jobs:
//
//	relay cron list
//	relay cron add --message "check the feed" --every 15m
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Populated by ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Relay - multi-channel tool-using agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildCronCmd(),
		buildStatusCmd(),
		buildSandboxHelperCmd(),
	)
	return root
}

// resolveConfigPath falls back to RELAY_CONFIG, then relay.yaml.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("RELAY_CONFIG"); env != "" {
		return env
	}
	return "relay.yaml"
}
