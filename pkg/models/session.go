package models

import "encoding/json"

// RecordKind identifies the type of a turn record.
type RecordKind string

const (
	RecordUser       RecordKind = "user"
	RecordAssistant  RecordKind = "assistant"
	RecordToolCall   RecordKind = "tool_call"
	RecordToolResult RecordKind = "tool_result"
)

// TurnRecord is one entry in a session's append-only history.
// Exactly the fields for its kind are populated.
type TurnRecord struct {
	Kind      RecordKind `json:"kind"`
	Content   string     `json:"content,omitempty"`
	CreatedMs int64      `json:"created_ms"`

	// Tool call fields (kind == tool_call).
	ToolName string          `json:"tool_name,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	CallID   string          `json:"call_id,omitempty"`

	// Tool result fields (kind == tool_result). CallID is shared.
	Status ResultStatus `json:"status,omitempty"`

	// Attachments on the current user record. Data bytes are
	// excluded from the persisted form via Attachment.Data json:"-".
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Session is the ordered per-owner conversation history.
type Session struct {
	OwnerKey     string       `json:"owner_key"`
	Records      []TurnRecord `json:"records"`
	CreatedAtMs  int64        `json:"created_at_ms"`
	LastUsedAtMs int64        `json:"last_used_at_ms"`
}

// ResultStatus classifies a tool result.
type ResultStatus string

const (
	StatusSuccess      ResultStatus = "success"
	StatusError        ResultStatus = "error"
	StatusAccessDenied ResultStatus = "access_denied"
)

// ToolResult is the outcome of a tool execution.
//
// AccessDenied is reserved for policy and security denials
// (workspace escape, denied command pattern, SSRF block). Transport
// and logic failures are Error. The model sees Content either way.
type ToolResult struct {
	Status  ResultStatus `json:"status"`
	Content string       `json:"content"`
}

// Success builds a successful tool result.
func Success(content string) *ToolResult {
	return &ToolResult{Status: StatusSuccess, Content: content}
}

// Errorf builds an error tool result.
func Errorf(content string) *ToolResult {
	return &ToolResult{Status: StatusError, Content: content}
}

// AccessDenied builds a security-denial tool result.
func AccessDenied(content string) *ToolResult {
	return &ToolResult{Status: StatusAccessDenied, Content: content}
}

// IsError reports whether the result is any failure variant.
func (r *ToolResult) IsError() bool {
	return r != nil && r.Status != StatusSuccess
}
