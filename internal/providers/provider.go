// Package providers implements the LLM backends behind the agent
// loop. Each provider converts the neutral chat contract to its
// native wire format.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaylabs/relay/internal/tools"
)

// Provider is a non-streaming chat backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ContentPart is one block of a multimodal message, in OpenAI shape.
// Non-OpenAI providers convert to their native format.
type ContentPart struct {
	Type string `json:"type"` // text | image_url
	Text string `json:"text,omitempty"`

	// ImageURL is an https URL or a data: URI.
	ImageURL string `json:"image_url,omitempty"`
}

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	// Role is user, assistant, or tool.
	Role string `json:"role"`

	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ChatRequest is a complete provider request.
type ChatRequest struct {
	Model     string             `json:"model,omitempty"`
	System    string             `json:"system,omitempty"`
	Messages  []ChatMessage      `json:"messages"`
	Tools     []tools.Definition `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens,omitempty"`
}

// Usage reports token consumption for a response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Stop reasons normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolCalls = "tool_calls"
	StopMaxTokens = "max_tokens"
)

// ChatResponse is a complete provider response.
type ChatResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// Config selects and configures a provider.
type Config struct {
	Kind    string `yaml:"kind"` // openai | anthropic
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// New constructs the configured provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Kind {
	case "openai":
		return NewOpenAI(cfg)
	case "anthropic":
		return NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Kind)
	}
}

const defaultMaxTokens = 4096
