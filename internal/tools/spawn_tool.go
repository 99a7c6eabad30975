package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaylabs/relay/pkg/models"
)

// InboundPublisher is the inbound side of the bus as seen by tools.
type InboundPublisher interface {
	Publish(msg *models.InboundMessage)
}

// SpawnTool queues a background turn for a task the model wants to
// run without blocking the current conversation. The spawned turn
// runs as a system turn: it gets the minimal prompt, cannot spawn
// again, and must use the message tool to deliver results.
type SpawnTool struct {
	publisher InboundPublisher
}

// NewSpawnTool creates the spawn tool.
func NewSpawnTool(publisher InboundPublisher) *SpawnTool {
	return &SpawnTool{publisher: publisher}
}

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Run a task in a background turn. The task runs asynchronously; use the message tool from within it to report results."
}

func (t *SpawnTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {"type": "string", "description": "Instructions for the background turn."}
		},
		"required": ["task"]
	}`)
}

func (t *SpawnTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	task := strings.TrimSpace(input.Task)
	if task == "" {
		return models.Errorf("task is required"), nil
	}

	id := uuid.NewString()
	content := task
	if origin, ok := OriginFrom(ctx); ok {
		// The background turn has its own session; the origin travels
		// in the prompt so results can be sent back with the message
		// tool.
		content = fmt.Sprintf("%s\n\nReport results to channel %q chat %q using the message tool.",
			task, origin.Channel, origin.ChatID)
	}
	t.publisher.Publish(&models.InboundMessage{
		Channel:      models.ChannelSystem,
		ChatID:       "spawn:" + id,
		SenderID:     "spawn:" + id,
		Content:      content,
		ReceivedAtMs: time.Now().UnixMilli(),
	})
	return models.Success("Background task queued: " + id), nil
}
