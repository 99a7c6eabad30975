package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/relaylabs/relay/internal/ratelimit"
	"github.com/relaylabs/relay/pkg/models"
)

// fakeTool is a scriptable tool for registry tests.
type fakeTool struct {
	name    string
	schema  string
	execute func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool" }

func (f *fakeTool) Schema() json.RawMessage {
	if f.schema == "" {
		return json.RawMessage(`{"type": "object"}`)
	}
	return json.RawMessage(f.schema)
}

func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if f.execute != nil {
		return f.execute(ctx, params)
	}
	return models.Success("ok"), nil
}

func TestRegistryExecuteSuccess(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{name: "echo"})

	result := reg.Execute(context.Background(), "echo", nil, "cli:1")
	if result.Status != models.StatusSuccess {
		t.Fatalf("status = %s, want success", result.Status)
	}
	if result.Content != "ok" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestRegistryToolNotFound(t *testing.T) {
	reg := NewRegistry(nil)
	result := reg.Execute(context.Background(), "missing", nil, "cli:1")
	if result.Status != models.StatusError {
		t.Fatalf("status = %s, want error", result.Status)
	}
	if !strings.Contains(result.Content, "not found") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestRegistrySchemaValidation(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{
		name: "strict",
		schema: `{
			"type": "object",
			"properties": {
				"count": {"type": "integer", "minimum": 1, "maximum": 10},
				"mode": {"type": "string", "enum": ["fast", "slow"]}
			},
			"required": ["count"]
		}`,
	})

	cases := []struct {
		name   string
		params string
		ok     bool
	}{
		{"valid", `{"count": 5}`, true},
		{"valid with enum", `{"count": 5, "mode": "fast"}`, true},
		{"missing required", `{}`, false},
		{"below minimum", `{"count": 0}`, false},
		{"above maximum", `{"count": 11}`, false},
		{"wrong type", `{"count": "five"}`, false},
		{"bad enum value", `{"count": 5, "mode": "medium"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := reg.Execute(context.Background(), "strict", json.RawMessage(tc.params), "cli:1")
			got := result.Status == models.StatusSuccess
			if got != tc.ok {
				t.Errorf("params %s: status = %s, want ok=%v", tc.params, result.Status, tc.ok)
			}
		})
	}
}

func TestRegistryPanicRecovery(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{
		name: "bomb",
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
			panic("internal detail that must not leak")
		},
	})

	result := reg.Execute(context.Background(), "bomb", nil, "cli:1")
	if result.Status != models.StatusError {
		t.Fatalf("status = %s, want error", result.Status)
	}
	if result.Content != "Error executing bomb" {
		t.Errorf("content = %q, want generic message", result.Content)
	}
	if strings.Contains(result.Content, "internal detail") {
		t.Error("panic detail leaked into result")
	}
}

func TestRegistryRateLimitRejection(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		PerTool: map[string]int{"echo": 2},
	})
	reg := NewRegistry(limiter)
	reg.Register(&fakeTool{name: "echo"})

	for i := 0; i < 2; i++ {
		result := reg.Execute(context.Background(), "echo", nil, "cli:1")
		if result.Status != models.StatusSuccess {
			t.Fatalf("call %d: status = %s", i, result.Status)
		}
	}
	result := reg.Execute(context.Background(), "echo", nil, "cli:1")
	if result.Status != models.StatusError {
		t.Fatalf("status = %s, want error after limit", result.Status)
	}
	if !strings.Contains(result.Content, "Rate limit exceeded") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestRegistryFailedCallsNotRecorded(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		PerTool: map[string]int{"flaky": 1},
	})
	reg := NewRegistry(limiter)
	reg.Register(&fakeTool{
		name: "flaky",
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
			return models.Errorf("boom"), nil
		},
	})

	// Error results do not consume budget, so repeated failures stay
	// below the limit.
	for i := 0; i < 3; i++ {
		result := reg.Execute(context.Background(), "flaky", nil, "cli:1")
		if result.Content != "boom" {
			t.Fatalf("call %d: content = %q, want tool's own error", i, result.Content)
		}
	}
}

func TestRegistryDefinitionsExclude(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{name: "alpha"})
	reg.Register(&fakeTool{name: "spawn"})
	reg.Register(&fakeTool{name: "zeta"})

	defs := reg.Definitions("spawn")
	if len(defs) != 2 {
		t.Fatalf("len = %d, want 2", len(defs))
	}
	if defs[0].Function.Name != "alpha" || defs[1].Function.Name != "zeta" {
		t.Errorf("definitions = %q, %q; want sorted alpha, zeta", defs[0].Function.Name, defs[1].Function.Name)
	}
	for _, def := range defs {
		if def.Type != "function" {
			t.Errorf("type = %q, want function", def.Type)
		}
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{name: "dup"})
	reg.Register(&fakeTool{
		name: "dup",
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
			return models.Success("second"), nil
		},
	})

	result := reg.Execute(context.Background(), "dup", nil, "cli:1")
	if result.Content != "second" {
		t.Errorf("content = %q, want second registration", result.Content)
	}
}

func TestRegistryContextReachesTool(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{
		name: "who",
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
			return models.Success(SessionKey(ctx)), nil
		},
	})

	ctx := WithSessionKey(context.Background(), "telegram:42")
	result := reg.Execute(ctx, "who", nil, "telegram:42")
	if result.Content != "telegram:42" {
		t.Errorf("session key = %q", result.Content)
	}
}

func TestRegistryRuntimeErrorHidden(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{
		name: "broken",
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
			return nil, context.DeadlineExceeded
		},
	})

	result := reg.Execute(context.Background(), "broken", nil, "cli:1")
	if result.Content != "Error executing broken" {
		t.Errorf("content = %q, want generic message", result.Content)
	}
}
