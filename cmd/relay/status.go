package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaylabs/relay/internal/config"
	"github.com/relaylabs/relay/internal/cron"
)

func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and state summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			printStatus(cfg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default relay.yaml)")
	return cmd
}

func printStatus(cfg *config.Config) {
	fmt.Printf("relay %s\n\n", version)
	fmt.Printf("Provider:   %s (model %s)\n", cfg.Provider.Kind, orDefault(cfg.Provider.Model, "provider default"))
	fmt.Printf("Workspace:  %s\n", cfg.Workspace)
	fmt.Printf("State dir:  %s\n", cfg.StateDir)
	fmt.Printf("Sandbox:    %s\n", cfg.Sandbox.Mode)
	fmt.Printf("Shell mode: %s\n", cfg.Shell.Mode)
	fmt.Printf("Channels:   %s\n", enabledChannels(cfg))
	if len(cfg.MCPServers) > 0 {
		names := make([]string, 0, len(cfg.MCPServers))
		for _, s := range cfg.MCPServers {
			names = append(names, s.Name)
		}
		fmt.Printf("MCP:        %s\n", strings.Join(names, ", "))
	}

	fmt.Printf("Sessions:   %d\n", countSessions(cfg.SessionsDir()))

	if store, err := cron.NewFileStore(cfg.CronFile()); err == nil {
		if jobs, err := store.Load(); err == nil {
			enabled := 0
			for _, job := range jobs {
				if job.Enabled {
					enabled++
				}
			}
			fmt.Printf("Cron jobs:  %d (%d enabled)\n", len(jobs), enabled)
		}
	}
}

func enabledChannels(cfg *config.Config) string {
	var names []string
	if cfg.Channels.CLI.Enabled {
		names = append(names, "cli")
	}
	if cfg.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func countSessions(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".jsonl" {
			count++
		}
	}
	return count
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
