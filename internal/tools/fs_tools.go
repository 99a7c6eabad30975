package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaylabs/relay/internal/sandbox"
	"github.com/relaylabs/relay/pkg/models"
)

// The filesystem tools all flow through the sandbox executor; none
// of them touch host file APIs directly.

// ReadFileTool reads a file from the workspace.
type ReadFileTool struct {
	executor sandbox.Executor
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(executor sandbox.Executor) *ReadFileTool {
	return &ReadFileTool{executor: executor}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace and return its content."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path, relative to the workspace."}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	content, err := t.executor.ReadFile(ctx, input.Path)
	if err != nil {
		return fsError(err), nil
	}
	return models.Success(content), nil
}

// WriteFileTool writes a file into the workspace, creating parent
// directories as needed.
type WriteFileTool struct {
	executor sandbox.Executor
}

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool(executor sandbox.Executor) *WriteFileTool {
	return &WriteFileTool{executor: executor}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating parent directories."
}

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path, relative to the workspace."},
			"content": {"type": "string", "description": "Content to write."}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if err := t.executor.WriteFile(ctx, input.Path, []byte(input.Content)); err != nil {
		return fsError(err), nil
	}
	return models.Success(fmt.Sprintf("Wrote %d bytes to %s", len(input.Content), input.Path)), nil
}

// EditFileTool performs an exact-match single substitution.
type EditFileTool struct {
	executor sandbox.Executor
}

// NewEditFileTool creates the edit_file tool.
func NewEditFileTool(executor sandbox.Executor) *EditFileTool {
	return &EditFileTool{executor: executor}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace an exact text fragment in a file. The old text must appear exactly once."
}

func (t *EditFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path, relative to the workspace."},
			"old_text": {"type": "string", "description": "Exact text to replace."},
			"new_text": {"type": "string", "description": "Replacement text."}
		},
		"required": ["path", "old_text", "new_text"]
	}`)
}

func (t *EditFileTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		OldText string `json:"old_text"`
		NewText string `json:"new_text"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if input.OldText == "" {
		return models.Errorf("old_text must not be empty"), nil
	}

	content, err := t.executor.ReadFile(ctx, input.Path)
	if err != nil {
		return fsError(err), nil
	}
	switch count := strings.Count(content, input.OldText); count {
	case 0:
		return models.Errorf(fmt.Sprintf("old_text not found in %s", input.Path)), nil
	case 1:
	default:
		return models.Errorf(fmt.Sprintf("old_text appears %d times in %s; provide more context to make it unique", count, input.Path)), nil
	}

	updated := strings.Replace(content, input.OldText, input.NewText, 1)
	if err := t.executor.WriteFile(ctx, input.Path, []byte(updated)); err != nil {
		return fsError(err), nil
	}
	return models.Success("Edited " + input.Path), nil
}

// ListDirTool lists a workspace directory.
type ListDirTool struct {
	executor sandbox.Executor
}

// NewListDirTool creates the list_dir tool.
func NewListDirTool(executor sandbox.Executor) *ListDirTool {
	return &ListDirTool{executor: executor}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the entries of a workspace directory."
}

func (t *ListDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory path, relative to the workspace. Defaults to the workspace root."}
		}
	}`)
}

func (t *ListDirTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if input.Path == "" {
		input.Path = "."
	}
	names, err := t.executor.ListDir(ctx, input.Path)
	if err != nil {
		return fsError(err), nil
	}
	if len(names) == 0 {
		return models.Success("(empty directory)"), nil
	}
	return models.Success(strings.Join(names, "\n")), nil
}

// fsError maps executor failures onto tool result variants.
func fsError(err error) *models.ToolResult {
	if sandbox.IsDenied(err) {
		return models.AccessDenied(err.Error())
	}
	return models.Errorf(err.Error())
}
