package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/internal/ratelimit"
	"github.com/relaylabs/relay/pkg/models"
)

// Registry manages available tools with thread-safe registration,
// validation, rate limiting, and execution.
type Registry struct {
	logger  *slog.Logger
	limiter *ratelimit.Limiter

	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry. A nil limiter disables rate
// limiting (tests).
func NewRegistry(limiter *ratelimit.Limiter) *Registry {
	return &Registry{
		logger:   slog.Default().With("component", "tools"),
		limiter:  limiter,
		tools:    make(map[string]Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. A tool with the same name replaces the
// previous registration.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	delete(r.compiled, tool.Name())
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.compiled, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns tool schemas in function-calling shape,
// excluding the named tools. Sorted by name for stable prompts.
func (r *Registry) Definitions(exclude ...string) []Definition {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for name, tool := range r.tools {
		if excluded[name] {
			continue
		}
		defs = append(defs, Definition{
			Type: "function",
			Function: FunctionDefinition{
				Name:        name,
				Description: tool.Description(),
				Parameters:  tool.Schema(),
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Function.Name < defs[j].Function.Name
	})
	return defs
}

// Execute runs a tool by name for the given session. The pipeline:
// lookup, rate limits, schema validation, invocation with panic
// recovery, rate-limit recording on success.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage, sessionKey string) *models.ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		return models.Errorf("tool not found: " + name)
	}

	// Rate limits apply before validation so a flood of invalid
	// calls still counts against the caller's budget view.
	if r.limiter != nil && !r.limiter.Allow(name, sessionKey) {
		observability.RateLimitRejections.Inc()
		r.logger.Warn("tool rate limited", "tool", name, "session", sessionKey)
		return models.Errorf(fmt.Sprintf("Rate limit exceeded for tool %q, try again later", name))
	}

	if err := r.validate(name, tool, params); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters for %s: %v", name, err))
	}

	result := r.invoke(ctx, tool, params)

	if r.limiter != nil && result.Status == models.StatusSuccess {
		r.limiter.Record(name, sessionKey)
	}

	observability.ToolExecutions.WithLabelValues(name, string(result.Status)).Inc()
	switch result.Status {
	case models.StatusSuccess:
		r.logger.Debug("tool executed", "tool", name, "session", sessionKey)
	case models.StatusAccessDenied:
		r.logger.Warn("tool access denied", "tool", name, "session", sessionKey, "reason", result.Content)
	default:
		r.logger.Error("tool failed", "tool", name, "session", sessionKey, "error", result.Content)
	}
	return result
}

// invoke calls the tool, converting panics and runtime errors into a
// generic error result so internals never leak to the model.
func (r *Registry) invoke(ctx context.Context, tool Tool, params json.RawMessage) (result *models.ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", tool.Name(), "panic", rec)
			result = models.Errorf("Error executing " + tool.Name())
		}
	}()
	res, err := tool.Execute(ctx, params)
	if err != nil {
		r.logger.Error("tool runtime error", "tool", tool.Name(), "error", err)
		return models.Errorf("Error executing " + tool.Name())
	}
	if res == nil {
		return models.Errorf("Error executing " + tool.Name())
	}
	return res
}

// validate checks params against the tool's compiled schema.
// Compiled schemas are cached per tool name.
func (r *Registry) validate(name string, tool Tool, params json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.compiled[name]
	r.mu.RUnlock()
	if !ok {
		var err error
		schema, err = jsonschema.CompileString(name+".schema.json", string(tool.Schema()))
		if err != nil {
			return fmt.Errorf("tool schema is invalid: %w", err)
		}
		r.mu.Lock()
		r.compiled[name] = schema
		r.mu.Unlock()
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(params, &value); err != nil {
		return fmt.Errorf("parameters are not valid JSON: %w", err)
	}
	return schema.Validate(value)
}
