package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/internal/tools"
)

const defaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_20250514)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	logger *slog.Logger
	model  string
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(options...),
		logger: slog.Default().With("component", "provider", "provider", "anthropic"),
		model:  model,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	model := req.Model
	if model == "" {
		model = p.model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  p.convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	toolParams, err := convertAnthropicTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params.Tools = toolParams

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		observability.ProviderErrors.Inc()
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	result := &ChatResponse{
		StopReason: normalizeStopReason(string(msg.StopReason)),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}
	result.Content = text.String()
	return result, nil
}

// convertMessages maps neutral history onto Anthropic's block format.
// Tool-role messages become user messages carrying tool_result blocks.
func (p *AnthropicProvider) convertMessages(messages []ChatMessage) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		if len(msg.Parts) > 0 {
			for _, part := range msg.Parts {
				switch part.Type {
				case "image_url":
					if mediaType, data, ok := parseDataURI(part.ImageURL); ok {
						content = append(content, anthropic.NewImageBlockBase64(mediaType, data))
					}
				default:
					if part.Text != "" {
						content = append(content, anthropic.NewTextBlock(part.Text))
					}
				}
			}
		} else if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, call := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(call.Arguments, &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result
}

func convertAnthropicTools(defs []tools.Definition) ([]anthropic.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Function.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", def.Function.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Function.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s", def.Function.Name)
		}
		param.OfTool.Description = anthropic.String(def.Function.Description)
		result = append(result, param)
	}
	return result, nil
}

// parseDataURI splits a data: URI into media type and base64 payload.
func parseDataURI(uri string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return StopToolCalls
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}
