package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/relaylabs/relay/internal/agent"
	"github.com/relaylabs/relay/internal/agentctx"
	"github.com/relaylabs/relay/internal/bus"
	"github.com/relaylabs/relay/internal/channels"
	"github.com/relaylabs/relay/internal/config"
	"github.com/relaylabs/relay/internal/cron"
	"github.com/relaylabs/relay/internal/mcp"
	"github.com/relaylabs/relay/internal/memory"
	"github.com/relaylabs/relay/internal/providers"
	"github.com/relaylabs/relay/internal/ratelimit"
	"github.com/relaylabs/relay/internal/sandbox"
	"github.com/relaylabs/relay/internal/sessions"
	"github.com/relaylabs/relay/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent runtime",
		Long: `Start the agent runtime with all configured channels.

Wires the sandbox executor, tool registry, MCP servers, provider,
session store, scheduler, and channel adapters, then runs until
SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default relay.yaml)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := slog.Default().With("component", "serve")
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	executor, err := sandbox.New(sandbox.Config{
		Mode:           sandbox.Mode(cfg.Sandbox.Mode),
		Workspace:      cfg.Workspace,
		BubblewrapPath: cfg.Sandbox.BubblewrapPath,
		SocketPath:     cfg.Sandbox.SocketPath,
	})
	if err != nil {
		return err
	}
	defer executor.Close()

	b := bus.New()
	defer b.Close()

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		PerTool:           cfg.RateLimits.PerTool,
		PerSessionPerTool: cfg.RateLimits.PerSessionPerTool,
		Global:            cfg.RateLimits.Global,
	})
	registry := tools.NewRegistry(limiter)

	execTimeout := time.Duration(cfg.Shell.ExecTimeoutSeconds) * time.Second
	execTool, err := tools.NewExecTool(executor, cfg.Workspace, tools.ShellMode(cfg.Shell.Mode), execTimeout)
	if err != nil {
		return err
	}
	registry.Register(execTool)
	registry.Register(tools.NewReadFileTool(executor))
	registry.Register(tools.NewWriteFileTool(executor))
	registry.Register(tools.NewEditFileTool(executor))
	registry.Register(tools.NewListDirTool(executor))
	registry.Register(tools.NewWebFetchTool())
	registry.Register(tools.NewMessageTool(b))
	registry.Register(tools.NewSpawnTool(b))
	if cfg.Web.SearchAPIKey != "" {
		registry.Register(tools.NewWebSearchTool(cfg.Web.SearchAPIKey))
	}

	cronStore, err := cron.NewFileStore(cfg.CronFile())
	if err != nil {
		return err
	}
	scheduler, err := cron.NewScheduler(cronStore, b)
	if err != nil {
		return err
	}
	registry.Register(tools.NewCronTool(scheduler))

	mcpManager := mcp.NewManager(mcpServerConfigs(cfg.MCPServers))
	mcpManager.Start(ctx, func(tool *mcp.ProxyTool) {
		registry.Register(tool)
	})
	defer mcpManager.Close()

	provider, err := providers.New(providers.Config{
		Kind:    cfg.Provider.Kind,
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Model:   cfg.Provider.Model,
	})
	if err != nil {
		return err
	}

	store, err := sessions.NewStore(cfg.SessionsDir())
	if err != nil {
		return err
	}
	locker := sessions.NewLocker(0)

	var memoryManager *memory.Manager
	if cfg.Memory.Window > 0 {
		memoryManager, err = memory.NewManager(memory.Config{
			Dir:    cfg.MemoryDir(),
			Window: cfg.Memory.Window,
			Model:  cfg.Memory.Model,
		}, store, locker, provider)
		if err != nil {
			return err
		}
	}

	builder := agentctx.NewBuilder(cfg.Agent.SystemPrompt, cfg.Memory.Window)
	runtime := agent.New(b, store, locker, builder, registry, provider, agent.Options{
		MaxIterations: cfg.Agent.MaxIterations,
		Model:         cfg.Provider.Model,
		Persona:       cfg.Agent.Persona,
		Profile:       cfg.Agent.Profile,
		Memory:        memoryManager,
	})

	group := channels.NewGroup()
	if cfg.Channels.CLI.Enabled {
		group.Add(channels.NewCLI(b, os.Stdin, os.Stdout))
	}
	if cfg.Channels.Telegram.Enabled {
		telegram, err := channels.NewTelegram(b, channels.TelegramConfig{
			Token:          cfg.Channels.Telegram.Token,
			AllowedChatIDs: cfg.Channels.Telegram.AllowedChatIDs,
		})
		if err != nil {
			return err
		}
		group.Add(telegram)
	}
	if err := group.StartAll(ctx); err != nil {
		return err
	}

	scheduler.Start(ctx)

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr)
	}

	logger.Info("relay started",
		"workspace", cfg.Workspace,
		"sandbox", cfg.Sandbox.Mode,
		"provider", cfg.Provider.Kind,
		"tools", registry.Names())

	// Blocks until the context is cancelled and in-flight turns
	// drain.
	runtime.Run(ctx)

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := group.StopAll(shutdownCtx); err != nil {
		logger.Warn("channel shutdown incomplete", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown incomplete", "error", err)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server failed", "error", err)
	}
}

func mcpServerConfigs(configs []config.MCPServerConfig) []*mcp.ServerConfig {
	out := make([]*mcp.ServerConfig, 0, len(configs))
	for _, c := range configs {
		out = append(out, &mcp.ServerConfig{
			Name:         c.Name,
			Command:      c.Command,
			Args:         c.Args,
			Env:          c.Env,
			AllowedTools: c.AllowedTools,
			Timeout:      time.Duration(c.TimeoutSeconds) * time.Second,
		})
	}
	return out
}
