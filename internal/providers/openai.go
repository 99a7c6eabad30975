package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relaylabs/relay/internal/observability"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider talks to the OpenAI chat completions API, or any
// OpenAI-compatible endpoint via BaseURL.
type OpenAIProvider struct {
	client *openai.Client
	logger *slog.Logger
	model  string
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		logger: slog.Default().With("component", "provider", "provider", "openai"),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	oaiReq := openai.ChatCompletionRequest{
		Model:     p.resolveModel(req.Model),
		Messages:  p.convertMessages(req),
		MaxTokens: req.MaxTokens,
	}
	if oaiReq.MaxTokens <= 0 {
		oaiReq.MaxTokens = defaultMaxTokens
	}
	for _, def := range req.Tools {
		var schema map[string]any
		if err := json.Unmarshal(def.Function.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		oaiReq.Tools = append(oaiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Function.Name,
				Description: def.Function.Description,
				Parameters:  schema,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, oaiReq)
	if err != nil {
		observability.ProviderErrors.Inc()
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		observability.ProviderErrors.Inc()
		return nil, fmt.Errorf("openai chat: empty response")
	}

	choice := resp.Choices[0]
	result := &ChatResponse{
		Content:    choice.Message.Content,
		StopReason: normalizeFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	if len(result.ToolCalls) > 0 {
		result.StopReason = StopToolCalls
	}
	return result, nil
}

func (p *OpenAIProvider) resolveModel(model string) string {
	if model != "" {
		return model
	}
	return p.model
}

func (p *OpenAIProvider) convertMessages(req *ChatRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "tool":
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			messages = append(messages, oaiMsg)
		default:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
			if len(msg.Parts) > 0 {
				// Multimodal messages already arrive in OpenAI shape.
				for _, part := range msg.Parts {
					switch part.Type {
					case "image_url":
						oaiMsg.MultiContent = append(oaiMsg.MultiContent, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    part.ImageURL,
								Detail: openai.ImageURLDetailAuto,
							},
						})
					default:
						oaiMsg.MultiContent = append(oaiMsg.MultiContent, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeText,
							Text: part.Text,
						})
					}
				}
			} else {
				oaiMsg.Content = msg.Content
			}
			messages = append(messages, oaiMsg)
		}
	}
	return messages
}

func normalizeFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return StopToolCalls
	case openai.FinishReasonLength:
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}
