package mcp

import (
	"context"
	"log/slog"
	"sync"
)

// Manager starts configured servers and registers their tools.
// Setup is asynchronous: Start returns immediately and tools appear
// in the registry as each server's handshake completes.
type Manager struct {
	logger  *slog.Logger
	configs []*ServerConfig

	mu      sync.Mutex
	clients []*Client
}

// NewManager creates a manager for the configured servers.
func NewManager(configs []*ServerConfig) *Manager {
	return &Manager{
		logger:  slog.Default().With("component", "mcp"),
		configs: configs,
	}
}

// RegisterFunc receives each proxy tool as it becomes available.
type RegisterFunc func(tool *ProxyTool)

// Start launches all server handshakes in parallel. Failures are
// logged, not returned: one broken server must not take down the
// gateway.
func (m *Manager) Start(ctx context.Context, register RegisterFunc) {
	for _, cfg := range m.configs {
		cfg := cfg
		go m.setupServer(ctx, cfg, register)
	}
}

func (m *Manager) setupServer(ctx context.Context, cfg *ServerConfig, register RegisterFunc) {
	client, err := NewClient(cfg)
	if err != nil {
		m.logger.Error("mcp server config invalid", "server", cfg.Name, "error", err)
		return
	}
	tools, err := client.Start(ctx)
	if err != nil {
		m.logger.Error("mcp server setup failed", "server", cfg.Name, "error", err)
		return
	}

	m.mu.Lock()
	m.clients = append(m.clients, client)
	m.mu.Unlock()

	registered := 0
	for _, tool := range tools {
		if !allowed(tool.Name, cfg.AllowedTools) {
			m.logger.Debug("mcp tool not in allowlist", "server", cfg.Name, "tool", tool.Name)
			continue
		}
		register(NewProxyTool(client, cfg.Name, tool))
		registered++
	}
	m.logger.Info("mcp server ready",
		"server", cfg.Name,
		"tools_advertised", len(tools),
		"tools_registered", registered)
}

// Close stops all running servers.
func (m *Manager) Close() {
	m.mu.Lock()
	clients := m.clients
	m.clients = nil
	m.mu.Unlock()
	for _, client := range clients {
		client.Close()
	}
}
