package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaylabs/relay/internal/sandbox"
)

// buildSandboxHelperCmd is the entry point the service-mode executor
// launches inside bubblewrap. Not meant to be run by hand.
func buildSandboxHelperCmd() *cobra.Command {
	var (
		socketPath string
		workspace  string
	)
	cmd := &cobra.Command{
		Use:    "sandbox-helper",
		Short:  "Run the in-sandbox command helper",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if socketPath == "" {
				return fmt.Errorf("sandbox-helper: --socket is required")
			}
			if workspace == "" {
				return fmt.Errorf("sandbox-helper: --workspace is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return sandbox.NewHelper(socketPath, workspace).Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket to listen on")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root inside the sandbox")
	return cmd
}
