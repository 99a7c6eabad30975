package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaylabs/relay/pkg/models"
)

// Publisher is the outbound side of the bus as seen by tools.
type Publisher interface {
	PublishOutbound(msg *models.OutboundMessage)
}

// MessageTool sends a message to a chat explicitly. Background turns
// rely on it for delivery since their final text is not auto-published.
type MessageTool struct {
	publisher Publisher
}

// NewMessageTool creates the message tool.
func NewMessageTool(publisher Publisher) *MessageTool {
	return &MessageTool{publisher: publisher}
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to a chat. Defaults to the current conversation; set channel and chat_id to target another."
}

func (t *MessageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message": {"type": "string", "description": "Message text to send."},
			"channel": {"type": "string", "description": "Target channel name. Defaults to the current conversation's channel."},
			"chat_id": {"type": "string", "description": "Target chat id. Defaults to the current conversation's chat."}
		},
		"required": ["message"]
	}`)
}

func (t *MessageTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Message string `json:"message"`
		Channel string `json:"channel"`
		ChatID  string `json:"chat_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Message) == "" {
		return models.Errorf("message is required"), nil
	}

	channel := models.ChannelType(input.Channel)
	chatID := input.ChatID
	if channel == "" || chatID == "" {
		origin, ok := OriginFrom(ctx)
		if !ok {
			return models.Errorf("no target: provide channel and chat_id"), nil
		}
		if channel == "" {
			channel = origin.Channel
		}
		if chatID == "" {
			chatID = origin.ChatID
		}
	}
	if channel == models.ChannelSystem {
		return models.Errorf("cannot send to the system channel"), nil
	}

	t.publisher.PublishOutbound(&models.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: input.Message,
	})
	return models.Success(fmt.Sprintf("Message sent to %s:%s", channel, chatID)), nil
}
