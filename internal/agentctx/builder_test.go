package agentctx

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relaylabs/relay/pkg/models"
)

func inbound(content string) *models.InboundMessage {
	return &models.InboundMessage{
		Channel: models.ChannelCLI,
		ChatID:  "u1",
		Content: content,
	}
}

func TestBuildBasicRequest(t *testing.T) {
	builder := NewBuilder("", 40)
	req := builder.Build(Input{
		Message: inbound("hello"),
		History: []models.TurnRecord{
			{Kind: models.RecordUser, Content: "earlier question"},
			{Kind: models.RecordAssistant, Content: "earlier answer"},
		},
	})

	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want history + current", len(req.Messages))
	}
	last := req.Messages[2]
	if last.Role != "user" || last.Content != "hello" {
		t.Errorf("current message = %+v", last)
	}
	if req.System == "" {
		t.Error("empty system prompt")
	}
}

func TestBuildSystemSections(t *testing.T) {
	builder := NewBuilder("base prompt", 40)
	req := builder.Build(Input{
		Message:   inbound("hi"),
		MemoryDoc: "likes coffee",
		Persona:   "terse sysadmin",
		Profile:   "name: Sam",
	})

	for _, want := range []string{"base prompt", "likes coffee", "terse sysadmin", "name: Sam"} {
		if !strings.Contains(req.System, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestBuildBackgroundPrompt(t *testing.T) {
	builder := NewBuilder("interactive prompt", 40)
	req := builder.Build(Input{
		Message:    inbound("check the feed"),
		Background: true,
	})
	if strings.Contains(req.System, "interactive prompt") {
		t.Error("background turn used the interactive prompt")
	}
	if !strings.Contains(req.System, "background task") {
		t.Errorf("system = %q", req.System)
	}
}

func TestBuildHistoryCap(t *testing.T) {
	var history []models.TurnRecord
	for i := 0; i < 100; i++ {
		history = append(history, models.TurnRecord{Kind: models.RecordUser, Content: "x"})
	}
	builder := NewBuilder("", 10)
	req := builder.Build(Input{Message: inbound("now"), History: history})
	if len(req.Messages) != 11 {
		t.Errorf("messages = %d, want capped history + current", len(req.Messages))
	}
}

func TestBuildCapNeverSplitsToolPair(t *testing.T) {
	history := []models.TurnRecord{
		{Kind: models.RecordUser, Content: "a"},
		{Kind: models.RecordToolCall, ToolName: "exec", CallID: "1", Args: json.RawMessage(`{}`)},
		{Kind: models.RecordToolResult, CallID: "1", Content: "out", Status: models.StatusSuccess},
		{Kind: models.RecordAssistant, Content: "done"},
	}
	builder := NewBuilder("", 2)
	req := builder.Build(Input{Message: inbound("next"), History: history})

	// The cap lands on the tool result; it must be skipped rather
	// than sent without its call.
	if req.Messages[0].Role == "tool" {
		t.Errorf("first history message is an orphaned tool result: %+v", req.Messages[0])
	}
}

func TestBuildToolCallConversion(t *testing.T) {
	history := []models.TurnRecord{
		{Kind: models.RecordUser, Content: "do two things"},
		{Kind: models.RecordToolCall, ToolName: "read_file", CallID: "1", Args: json.RawMessage(`{"path":"a"}`)},
		{Kind: models.RecordToolCall, ToolName: "read_file", CallID: "2", Args: json.RawMessage(`{"path":"b"}`)},
		{Kind: models.RecordToolResult, CallID: "1", Content: "A", Status: models.StatusSuccess},
		{Kind: models.RecordToolResult, CallID: "2", Content: "B", Status: models.StatusSuccess},
		{Kind: models.RecordAssistant, Content: "both read"},
	}
	builder := NewBuilder("", 40)
	req := builder.Build(Input{Message: inbound("ok"), History: history})

	// user, assistant(2 calls), tool, tool, assistant, current user
	if len(req.Messages) != 6 {
		t.Fatalf("messages = %d: %+v", len(req.Messages), req.Messages)
	}
	calls := req.Messages[1]
	if calls.Role != "assistant" || len(calls.ToolCalls) != 2 {
		t.Errorf("tool-call message = %+v", calls)
	}
	if req.Messages[2].ToolCallID != "1" || req.Messages[3].ToolCallID != "2" {
		t.Errorf("tool results = %+v, %+v", req.Messages[2], req.Messages[3])
	}
}

func TestBuildPendingFollowsCurrentMessage(t *testing.T) {
	pending := []models.TurnRecord{
		{Kind: models.RecordToolCall, ToolName: "exec", CallID: "1", Args: json.RawMessage(`{"command":"ls"}`)},
		{Kind: models.RecordToolResult, CallID: "1", Content: "a.txt", Status: models.StatusSuccess},
	}
	builder := NewBuilder("", 40)
	req := builder.Build(Input{Message: inbound("list files"), Pending: pending})

	// current user, assistant(call), tool result
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d: %+v", len(req.Messages), req.Messages)
	}
	if req.Messages[0].Role != "user" || req.Messages[0].Content != "list files" {
		t.Errorf("first message = %+v", req.Messages[0])
	}
	if req.Messages[1].Role != "assistant" || len(req.Messages[1].ToolCalls) != 1 {
		t.Errorf("tool-call message = %+v", req.Messages[1])
	}
	if req.Messages[2].Role != "tool" || req.Messages[2].ToolCallID != "1" {
		t.Errorf("tool-result message = %+v", req.Messages[2])
	}
}

func TestBuildCurrentImageAsDataURI(t *testing.T) {
	msg := inbound("what is this")
	msg.Attachments = []models.Attachment{{
		Type:     "image",
		MimeType: "image/jpeg",
		Data:     []byte{0xFF, 0xD8},
	}}

	builder := NewBuilder("", 40)
	req := builder.Build(Input{Message: msg})

	current := req.Messages[len(req.Messages)-1]
	if len(current.Parts) != 2 {
		t.Fatalf("parts = %+v", current.Parts)
	}
	if current.Parts[0].Type != "text" || current.Parts[0].Text != "what is this" {
		t.Errorf("text part = %+v", current.Parts[0])
	}
	image := current.Parts[1]
	if image.Type != "image_url" || !strings.HasPrefix(image.ImageURL, "data:image/jpeg;base64,") {
		t.Errorf("image part = %+v", image)
	}
}

func TestBuildPastImagesNotReemitted(t *testing.T) {
	history := []models.TurnRecord{{
		Kind:    models.RecordUser,
		Content: "old photo",
		Attachments: []models.Attachment{{
			Type: "image", Filename: "cat.png", Data: []byte{1, 2, 3},
		}},
	}}

	builder := NewBuilder("", 40)
	req := builder.Build(Input{Message: inbound("and now?"), History: history})

	past := req.Messages[0]
	if len(past.Parts) != 0 {
		t.Errorf("past image re-emitted as parts: %+v", past.Parts)
	}
	if !strings.Contains(past.Content, "cat.png") {
		t.Errorf("past attachment not referenced: %q", past.Content)
	}
}
