package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaylabs/relay/pkg/models"
)

// ProxyTool adapts one server tool to the registry's Tool interface.
type ProxyTool struct {
	client      *Client
	server      string
	remoteName  string
	description string
	schema      json.RawMessage
}

// NewProxyTool wraps a server tool for registration.
func NewProxyTool(client *Client, server string, tool *ServerTool) *ProxyTool {
	schema := tool.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type": "object"}`)
	}
	description := tool.Description
	if description == "" {
		description = fmt.Sprintf("Tool %q provided by MCP server %q.", tool.Name, server)
	}
	return &ProxyTool{
		client:      client,
		server:      server,
		remoteName:  tool.Name,
		description: description,
		schema:      schema,
	}
}

// Name returns the registered tool name,
// mcp_<sanitize(server)>_<sanitize(tool)>.
func (p *ProxyTool) Name() string {
	return registeredName(p.server, p.remoteName)
}

func (p *ProxyTool) Description() string { return p.description }

func (p *ProxyTool) Schema() json.RawMessage { return p.schema }

func (p *ProxyTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if !p.client.Alive() {
		return models.Errorf(fmt.Sprintf("MCP server %q is not running", p.server)), nil
	}
	content, isError, err := p.client.CallTool(ctx, p.remoteName, params)
	if err != nil {
		return models.Errorf(fmt.Sprintf("MCP tool %s failed: %v", p.remoteName, err)), nil
	}
	if isError {
		return models.Errorf(content), nil
	}
	return models.Success(content), nil
}

// registeredName builds the registry name for a server tool.
func registeredName(server, tool string) string {
	return "mcp_" + sanitize(server) + "_" + sanitize(tool)
}

// sanitize lowercases and maps every run of characters outside
// [a-z0-9_] to a single underscore.
func sanitize(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return b.String()
}

// allowed implements the tool allowlist: empty list admits all;
// entries are literal names or `prefix*` wildcards.
func allowed(name string, list []string) bool {
	if len(list) == 0 {
		return true
	}
	for _, entry := range list {
		if prefix, ok := strings.CutSuffix(entry, "*"); ok {
			if strings.HasPrefix(name, prefix) {
				return true
			}
			continue
		}
		if name == entry {
			return true
		}
	}
	return false
}
