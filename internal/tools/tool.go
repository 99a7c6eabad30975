// Package tools provides the tool registry and the built-in tools
// advertised to the model.
package tools

import (
	"context"
	"encoding/json"

	"github.com/relaylabs/relay/pkg/models"
)

// Tool is an invokable capability advertised to the model with a
// JSON schema.
//
// Execute never returns a Go error for tool-level failures; those
// are folded into the ToolResult so the model can react. A non-nil
// error means the runtime itself misbehaved.
type Tool interface {
	// Name returns the tool name for function calling.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Params have already passed schema
	// validation when invoked through the registry.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

type sessionKeyCtx struct{}

// WithSessionKey attaches the calling session's owner key to ctx.
// Tools that scope their effects per owner (cron, message, spawn)
// read it back with SessionKey.
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKeyCtx{}, key)
}

// SessionKey returns the owner key attached by WithSessionKey.
func SessionKey(ctx context.Context) string {
	key, _ := ctx.Value(sessionKeyCtx{}).(string)
	return key
}

// Origin identifies the conversation a turn is running on behalf of.
// Tools that deliver or schedule messages use it as the default
// target.
type Origin struct {
	Channel models.ChannelType
	ChatID  string
}

type originCtx struct{}

// WithOrigin attaches the turn's originating conversation to ctx.
func WithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originCtx{}, origin)
}

// OriginFrom returns the origin attached by WithOrigin.
func OriginFrom(ctx context.Context) (Origin, bool) {
	origin, ok := ctx.Value(originCtx{}).(Origin)
	return origin, ok
}

// Definition is a tool schema in OpenAI/Anthropic function-calling
// shape.
type Definition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition carries the function-calling payload.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
