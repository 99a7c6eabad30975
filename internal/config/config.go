// Package config loads and validates the runtime configuration.
// Files are YAML or JSON5, support $include composition, and expand
// ${ENV_VAR} references before parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the full runtime configuration.
type Config struct {
	// Workspace is the directory tool execution is confined to.
	Workspace string `yaml:"workspace"`

	// StateDir holds sessions, memory documents, and the cron file.
	StateDir string `yaml:"state_dir"`

	Provider   ProviderConfig    `yaml:"provider"`
	Sandbox    SandboxConfig     `yaml:"sandbox"`
	Shell      ShellConfig       `yaml:"shell"`
	Agent      AgentConfig       `yaml:"agent"`
	Memory     MemoryConfig      `yaml:"memory"`
	RateLimits RateLimitConfig   `yaml:"rate_limits"`
	Channels   ChannelsConfig    `yaml:"channels"`
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
	Web        WebConfig         `yaml:"web"`

	// MetricsAddr exposes /metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProviderConfig selects and authenticates the LLM backend.
type ProviderConfig struct {
	Kind    string `yaml:"kind"` // openai | anthropic
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// SandboxConfig selects the tool isolation backend.
type SandboxConfig struct {
	// Mode is service, oneshot, or none.
	Mode           string `yaml:"mode"`
	BubblewrapPath string `yaml:"bubblewrap_path"`
	SocketPath     string `yaml:"socket_path"`
}

// Sandboxed reports whether kernel isolation is requested.
func (c SandboxConfig) Sandboxed() bool {
	return c.Mode != "none"
}

// ShellConfig controls the exec tool.
type ShellConfig struct {
	// Mode is simple (single commands) or full (compound shell).
	Mode string `yaml:"mode"`

	// ExecTimeoutSeconds bounds each command; 0 uses the default.
	ExecTimeoutSeconds int `yaml:"exec_timeout_seconds"`
}

// AgentConfig tunes the turn loop.
type AgentConfig struct {
	SystemPrompt  string `yaml:"system_prompt"`
	Persona       string `yaml:"persona"`
	Profile       string `yaml:"profile"`
	MaxIterations int    `yaml:"max_iterations"`
}

// MemoryConfig controls long-term memory consolidation.
type MemoryConfig struct {
	// Window is how many recent records stay verbatim; 0 disables
	// consolidation entirely.
	Window int `yaml:"window"`

	// Model overrides the provider default for summarization.
	Model string `yaml:"model"`
}

// RateLimitConfig bounds tool calls within a sliding minute.
type RateLimitConfig struct {
	Global            int            `yaml:"global"`
	PerSessionPerTool int            `yaml:"per_session_per_tool"`
	PerTool           map[string]int `yaml:"per_tool"`
}

// ChannelsConfig enables transports.
type ChannelsConfig struct {
	CLI      CLIChannelConfig      `yaml:"cli"`
	Telegram TelegramChannelConfig `yaml:"telegram"`
}

// CLIChannelConfig enables the terminal channel.
type CLIChannelConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TelegramChannelConfig configures the Telegram adapter.
type TelegramChannelConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Token          string   `yaml:"token"`
	AllowedChatIDs []string `yaml:"allowed_chat_ids"`
}

// MCPServerConfig declares one external tool server.
type MCPServerConfig struct {
	Name           string            `yaml:"name"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	AllowedTools   []string          `yaml:"allowed_tools"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// WebConfig configures the web tools.
type WebConfig struct {
	// SearchAPIKey is the Brave Search key; empty disables the
	// web_search tool.
	SearchAPIKey string `yaml:"search_api_key"`
}

// Load reads, merges, decodes, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() error {
	if c.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: resolve home dir: %w", err)
		}
		c.StateDir = filepath.Join(home, ".relay")
	}
	if c.Workspace == "" {
		c.Workspace = filepath.Join(c.StateDir, "workspace")
	}
	if c.Sandbox.Mode == "" {
		c.Sandbox.Mode = "service"
	}
	if c.Shell.Mode == "" {
		c.Shell.Mode = "simple"
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 20
	}
	if c.Memory.Window == 0 {
		c.Memory.Window = 40
	}
	if !c.Channels.CLI.Enabled && !c.Channels.Telegram.Enabled {
		c.Channels.CLI.Enabled = true
	}
	return nil
}

// Validate rejects configurations the runtime cannot honor. These
// are fatal at startup.
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case "openai", "anthropic":
	case "":
		return fmt.Errorf("config: provider.kind is required")
	default:
		return fmt.Errorf("config: unknown provider kind %q", c.Provider.Kind)
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("config: provider.api_key is required")
	}

	switch c.Sandbox.Mode {
	case "service", "oneshot", "none":
	default:
		return fmt.Errorf("config: unknown sandbox mode %q", c.Sandbox.Mode)
	}

	switch c.Shell.Mode {
	case "simple":
	case "full":
		// Compound shell lines defeat the command pattern checks that
		// sandboxed execution relies on; the two are mutually
		// exclusive.
		if c.Sandbox.Sandboxed() {
			return fmt.Errorf("config: shell mode full cannot be combined with sandbox mode %q", c.Sandbox.Mode)
		}
	default:
		return fmt.Errorf("config: unknown shell mode %q", c.Shell.Mode)
	}

	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("config: channels.telegram.token is required when telegram is enabled")
	}
	if c.Memory.Window < 0 {
		return fmt.Errorf("config: memory.window must not be negative")
	}

	seen := make(map[string]bool, len(c.MCPServers))
	for _, server := range c.MCPServers {
		name := strings.TrimSpace(server.Name)
		if name == "" {
			return fmt.Errorf("config: mcp server name is required")
		}
		if seen[name] {
			return fmt.Errorf("config: duplicate mcp server %q", name)
		}
		seen[name] = true
		if strings.TrimSpace(server.Command) == "" {
			return fmt.Errorf("config: mcp server %q has no command", name)
		}
	}
	return nil
}

// CronFile returns the scheduler persistence path.
func (c *Config) CronFile() string {
	return filepath.Join(c.StateDir, "cron.json")
}

// SessionsDir returns the session store path.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.StateDir, "sessions")
}

// MemoryDir returns the memory document path.
func (c *Config) MemoryDir() string {
	return filepath.Join(c.StateDir, "memory")
}
