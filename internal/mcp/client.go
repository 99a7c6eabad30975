package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const (
	protocolVersion = "2024-11-05"

	handshakeTimeout = 30 * time.Second
	callTimeout      = 60 * time.Second

	// maxResultBytes caps the model-visible size of a tool result.
	maxResultBytes = 50 << 10
)

// Client is a long-lived connection to one MCP server. It performs
// the initialize handshake, lists tools, and forwards tool calls.
// When the server process dies the client stays dead until restart.
type Client struct {
	config    *ServerConfig
	logger    *slog.Logger
	transport *stdioTransport
}

// NewClient creates a client for the server. Start must be called
// before use.
func NewClient(cfg *ServerConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config:    cfg,
		logger:    slog.Default().With("component", "mcp", "server", cfg.Name),
		transport: newStdioTransport(cfg),
	}, nil
}

// Start launches the subprocess and performs the handshake:
// initialize, notifications/initialized, tools/list.
func (c *Client) Start(ctx context.Context) ([]*ServerTool, error) {
	if err := c.transport.connect(); err != nil {
		return nil, err
	}

	raw, err := c.transport.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "relay", Version: "1.0"},
	}, handshakeTimeout)
	if err != nil {
		c.transport.close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	var init initializeResult
	if err := json.Unmarshal(raw, &init); err != nil {
		c.transport.close()
		return nil, fmt.Errorf("initialize result: %w", err)
	}
	c.logger.Info("mcp server initialized",
		"server_name", init.ServerInfo.Name,
		"server_version", init.ServerInfo.Version,
		"protocol", init.ProtocolVersion)

	if err := c.transport.notify("notifications/initialized"); err != nil {
		c.transport.close()
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	raw, err = c.transport.call(ctx, "tools/list", nil, handshakeTimeout)
	if err != nil {
		c.transport.close()
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var list listToolsResult
	if err := json.Unmarshal(raw, &list); err != nil {
		c.transport.close()
		return nil, fmt.Errorf("tools/list result: %w", err)
	}
	return list.Tools, nil
}

// Alive reports whether the server process is still running.
func (c *Client) Alive() bool { return c.transport.alive() }

// Close stops the server process.
func (c *Client) Close() { c.transport.close() }

// CallTool invokes a tool on the server and returns the flattened
// result text, capped at maxResultBytes.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, bool, error) {
	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = callTimeout
	}
	params := map[string]any{"name": name}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	} else {
		params["arguments"] = map[string]any{}
	}

	raw, err := c.transport.call(ctx, "tools/call", params, timeout)
	if err != nil {
		return "", false, err
	}
	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", false, fmt.Errorf("tools/call result: %w", err)
	}
	return flattenResult(&result), result.IsError, nil
}

// flattenResult renders a tool result for the model. Text blocks are
// joined; non-text blocks are JSON-stringified so nothing is lost.
func flattenResult(result *ToolCallResult) string {
	var out []byte
	for i, content := range result.Content {
		if i > 0 {
			out = append(out, '\n')
		}
		if content.Type == "text" {
			out = append(out, content.Text...)
		} else {
			raw, err := json.Marshal(content)
			if err != nil {
				continue
			}
			out = append(out, raw...)
		}
		if len(out) > maxResultBytes {
			break
		}
	}
	if len(out) > maxResultBytes {
		out = append(out[:maxResultBytes], "\n... (result truncated)"...)
	}
	return string(out)
}
