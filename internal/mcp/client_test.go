package mcp

import (
	"context"
	"strings"
	"testing"
)

// fakeServerScript is a minimal MCP server: it answers the handshake
// and one tools/call with canned responses keyed off the method name.
const fakeServerScript = `
while read -r line; do
  case "$line" in
    *'"initialize"'*)
      echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake","version":"0.1"}}}' ;;
    *'"tools/list"'*)
      echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"echoes","inputSchema":{"type":"object"}},{"name":"hidden_tool","inputSchema":{"type":"object"}}]}}' ;;
    *'"tools/call"'*)
      echo '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"hello from fake"}]}}' ;;
  esac
done
`

func startFakeServer(t *testing.T, cfg *ServerConfig) (*Client, []*ServerTool) {
	t.Helper()
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatal(err)
	}
	tools, err := client.Start(context.Background())
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client, tools
}

func TestClientHandshakeAndCall(t *testing.T) {
	client, tools := startFakeServer(t, &ServerConfig{
		Name:    "fake",
		Command: "sh",
		Args:    []string{"-c", fakeServerScript},
	})

	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	if tools[0].Name != "echo" {
		t.Errorf("tool name = %q", tools[0].Name)
	}

	content, isError, err := client.CallTool(context.Background(), "echo", []byte(`{"text":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if isError {
		t.Error("isError = true")
	}
	if content != "hello from fake" {
		t.Errorf("content = %q", content)
	}
}

func TestClientDeadAfterServerExit(t *testing.T) {
	client, _ := startFakeServer(t, &ServerConfig{
		Name:    "fake",
		Command: "sh",
		Args:    []string{"-c", fakeServerScript},
	})

	client.Close()
	if client.Alive() {
		t.Error("client still alive after close")
	}
	if _, _, err := client.CallTool(context.Background(), "echo", nil); err == nil {
		t.Error("call on dead client succeeded")
	}
}

func TestProxyToolAgainstFakeServer(t *testing.T) {
	client, tools := startFakeServer(t, &ServerConfig{
		Name:    "my-srv",
		Command: "sh",
		Args:    []string{"-c", fakeServerScript},
	})

	proxy := NewProxyTool(client, "my-srv", tools[0])
	if proxy.Name() != "mcp_my_srv_echo" {
		t.Errorf("name = %q", proxy.Name())
	}

	result, err := proxy.Execute(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError() {
		t.Fatalf("result = %s", result.Content)
	}
	if result.Content != "hello from fake" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestProxyToolDeadServer(t *testing.T) {
	client, tools := startFakeServer(t, &ServerConfig{
		Name:    "srv",
		Command: "sh",
		Args:    []string{"-c", fakeServerScript},
	})
	proxy := NewProxyTool(client, "srv", tools[0])
	client.Close()

	result, err := proxy.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError() {
		t.Error("expected error result from dead server")
	}
	if !strings.Contains(result.Content, "not running") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestManagerAllowlist(t *testing.T) {
	manager := NewManager([]*ServerConfig{{
		Name:         "fake",
		Command:      "sh",
		Args:         []string{"-c", fakeServerScript},
		AllowedTools: []string{"echo"},
	}})
	defer manager.Close()

	registered := make(chan *ProxyTool, 4)
	manager.Start(context.Background(), func(tool *ProxyTool) {
		registered <- tool
	})

	tool := <-registered
	if tool.Name() != "mcp_fake_echo" {
		t.Errorf("registered = %q", tool.Name())
	}
	select {
	case extra := <-registered:
		t.Errorf("unexpected extra registration %q", extra.Name())
	default:
	}
}

func TestFlattenResultTruncation(t *testing.T) {
	big := strings.Repeat("a", maxResultBytes+100)
	got := flattenResult(&ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: big}}})
	if len(got) > maxResultBytes+64 {
		t.Errorf("len = %d, not truncated", len(got))
	}
	if !strings.Contains(got, "truncated") {
		t.Error("missing truncation marker")
	}
}

func TestFlattenResultMixedContent(t *testing.T) {
	got := flattenResult(&ToolCallResult{Content: []ToolResultContent{
		{Type: "text", Text: "first"},
		{Type: "image", Data: "abcd", MimeType: "image/png"},
	}})
	if !strings.HasPrefix(got, "first\n") {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(got, `"image/png"`) {
		t.Errorf("non-text block not stringified: %q", got)
	}
}
