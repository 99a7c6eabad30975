// Package agentctx assembles the provider request for a turn: system
// prompt, capped history, long-term memory, and the inbound message.
package agentctx

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/relaylabs/relay/internal/providers"
	"github.com/relaylabs/relay/internal/tools"
	"github.com/relaylabs/relay/pkg/models"
)

const defaultSystemPrompt = `You are a helpful assistant reachable over chat.
Be concise; chat messages should be short. Use the available tools when they help.`

const backgroundSystemPrompt = `You are running a scheduled background task.
There is no user waiting for a reply. Complete the task with the available tools.
If something needs reporting, use the message tool; otherwise finish silently.`

// Builder produces provider requests. It is a pure assembler: all
// state arrives through Input.
type Builder struct {
	systemPrompt string
	window       int
}

// NewBuilder creates a builder. systemPrompt overrides the default
// interactive prompt; window caps history records per request.
func NewBuilder(systemPrompt string, window int) *Builder {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	if window <= 0 {
		window = 40
	}
	return &Builder{systemPrompt: systemPrompt, window: window}
}

// Input is everything a turn contributes to the request.
type Input struct {
	Message *models.InboundMessage
	History []models.TurnRecord

	// MemoryDoc is the owner's long-term memory document.
	MemoryDoc string

	// Persona and Profile are transient documents appended to the
	// system prompt when present.
	Persona string
	Profile string

	// Pending holds the current turn's tool-call and tool-result
	// records; they follow the current message in the request.
	Pending []models.TurnRecord

	Tools []tools.Definition

	// Background marks scheduler-driven turns: minimal prompt, no
	// pleasantries.
	Background bool
}

// Build assembles the request. Image attachments on the current
// message become content parts; images in history never reappear.
func (b *Builder) Build(input Input) *providers.ChatRequest {
	req := &providers.ChatRequest{
		System:   b.systemPrompt,
		Messages: convertHistory(capHistory(input.History, b.window)),
		Tools:    input.Tools,
	}
	if input.Background {
		req.System = backgroundSystemPrompt
	}

	var sections []string
	if input.Persona != "" {
		sections = append(sections, "# Persona\n"+input.Persona)
	}
	if input.Profile != "" {
		sections = append(sections, "# User profile\n"+input.Profile)
	}
	if input.MemoryDoc != "" {
		sections = append(sections, "# Long-term memory\n"+input.MemoryDoc)
	}
	sections = append(sections, "Current time: "+time.Now().UTC().Format(time.RFC3339))
	req.System = req.System + "\n\n" + strings.Join(sections, "\n\n")

	req.Messages = append(req.Messages, currentMessage(input.Message))
	req.Messages = append(req.Messages, convertHistory(input.Pending)...)
	return req
}

// capHistory keeps the most recent window records without splitting
// a tool result from its call.
func capHistory(history []models.TurnRecord, window int) []models.TurnRecord {
	if len(history) <= window {
		return history
	}
	start := len(history) - window
	for start < len(history) && history[start].Kind == models.RecordToolResult {
		start++
	}
	return history[start:]
}

// convertHistory maps session records to chat messages. Consecutive
// tool-call records fold into one assistant message; historical image
// attachments are referenced as text only.
func convertHistory(records []models.TurnRecord) []providers.ChatMessage {
	var messages []providers.ChatMessage
	for i := 0; i < len(records); i++ {
		record := records[i]
		switch record.Kind {
		case models.RecordUser:
			content := record.Content
			for _, att := range record.Attachments {
				content += fmt.Sprintf("\n[%s attachment: %s]", att.Type, att.Filename)
			}
			messages = append(messages, providers.ChatMessage{Role: "user", Content: content})
		case models.RecordAssistant:
			messages = append(messages, providers.ChatMessage{Role: "assistant", Content: record.Content})
		case models.RecordToolCall:
			msg := providers.ChatMessage{Role: "assistant"}
			for i < len(records) && records[i].Kind == models.RecordToolCall {
				msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
					ID:        records[i].CallID,
					Name:      records[i].ToolName,
					Arguments: records[i].Args,
				})
				i++
			}
			i--
			messages = append(messages, msg)
		case models.RecordToolResult:
			messages = append(messages, providers.ChatMessage{
				Role:       "tool",
				Content:    record.Content,
				ToolCallID: record.CallID,
			})
		}
	}
	return messages
}

// currentMessage renders the inbound message, emitting image
// attachments as image_url parts with data: URIs.
func currentMessage(msg *models.InboundMessage) providers.ChatMessage {
	out := providers.ChatMessage{Role: "user"}

	var images []providers.ContentPart
	for _, att := range msg.Attachments {
		if att.Type != "image" {
			continue
		}
		switch {
		case len(att.Data) > 0:
			mime := att.MimeType
			if mime == "" {
				mime = "image/png"
			}
			images = append(images, providers.ContentPart{
				Type:     "image_url",
				ImageURL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(att.Data),
			})
		case att.URL != "":
			images = append(images, providers.ContentPart{Type: "image_url", ImageURL: att.URL})
		}
	}

	if len(images) == 0 {
		out.Content = msg.Content
		return out
	}
	if msg.Content != "" {
		out.Parts = append(out.Parts, providers.ContentPart{Type: "text", Text: msg.Content})
	}
	out.Parts = append(out.Parts, images...)
	return out
}
