package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/relaylabs/relay/internal/sandbox"
	"github.com/relaylabs/relay/internal/shellsafe"
	"github.com/relaylabs/relay/pkg/models"
)

// ShellMode selects how much shell the exec tool hands to the model.
type ShellMode string

const (
	// ShellSimple allows single commands only: no pipes,
	// redirection, chaining, or expansion. Required when sandboxed.
	ShellSimple ShellMode = "simple"

	// ShellFull passes commands to sh -c unrestricted (deny
	// patterns still apply). Only valid without a sandbox.
	ShellFull ShellMode = "full"
)

const maxExecOutput = 10 << 10

// ExecTool runs shell commands through the sandbox executor after
// layered policy checks.
type ExecTool struct {
	executor  sandbox.Executor
	workspace string
	shellMode ShellMode
	timeout   time.Duration
}

// NewExecTool creates the exec tool. Requesting a sandboxed executor
// together with full-shell mode is a configuration error: full shell
// would let the model smuggle compound commands past the simple
// policy the sandbox relies on.
func NewExecTool(executor sandbox.Executor, workspace string, mode ShellMode, timeout time.Duration) (*ExecTool, error) {
	if mode == "" {
		mode = ShellSimple
	}
	if mode != ShellSimple && mode != ShellFull {
		return nil, fmt.Errorf("exec tool: unknown shell mode %q", mode)
	}
	if executor.Sandboxed() && mode == ShellFull {
		return nil, fmt.Errorf("exec tool: full shell mode cannot be combined with a sandboxed executor; use simple mode or disable the sandbox")
	}
	if timeout <= 0 {
		timeout = sandbox.DefaultExecTimeout
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("exec tool: resolve workspace: %w", err)
	}
	return &ExecTool{executor: executor, workspace: abs, shellMode: mode, timeout: timeout}, nil
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace. Output is truncated; long-running commands are killed at the timeout."
}

func (t *ExecTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to execute."},
			"working_dir": {"type": "string", "description": "Working directory, relative to the workspace."}
		},
		"required": ["command"]
	}`)
}

func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Command    string `json:"command"`
		WorkingDir string `json:"working_dir"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return models.Errorf("command is required"), nil
	}

	if reason, denied := shellsafe.CheckCommand(command); denied {
		return models.AccessDenied("Command blocked: " + reason), nil
	}
	if t.shellMode == ShellSimple && t.executor.Sandboxed() {
		if err := shellsafe.CheckSimpleMode(command); err != nil {
			return models.AccessDenied("Command blocked: " + err.Error()), nil
		}
	}

	command, result := t.applyWorkingDir(command, input.WorkingDir)
	if result != nil {
		return result, nil
	}

	execResult, err := t.executor.Exec(ctx, command, t.timeout)
	if err != nil {
		if sandbox.IsDenied(err) {
			return models.AccessDenied(err.Error()), nil
		}
		return models.Errorf(fmt.Sprintf("Execution failed: %v", err)), nil
	}
	return models.Success(formatExecResult(execResult)), nil
}

// applyWorkingDir validates an optional working directory and folds
// it into the command. Relative paths are rebased onto the workspace;
// when sandboxed, the canonical path must stay inside it.
func (t *ExecTool) applyWorkingDir(command, workingDir string) (string, *models.ToolResult) {
	dir := strings.TrimSpace(workingDir)
	if dir == "" {
		return command, nil
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(t.workspace, dir)
	}
	dir = filepath.Clean(dir)
	if t.executor.Sandboxed() {
		if dir != t.workspace && !strings.HasPrefix(dir, t.workspace+string(filepath.Separator)) {
			return "", models.AccessDenied(fmt.Sprintf("working directory %q is outside the workspace", workingDir))
		}
	}
	// The executor always runs sh -c from the workspace root; the
	// directory change has to travel inside the command itself.
	quoted := "'" + strings.ReplaceAll(dir, "'", `'\''`) + "'"
	return "cd " + quoted + " && " + command, nil
}

// formatExecResult builds the composite model-visible output.
func formatExecResult(result *sandbox.ExecResult) string {
	var b strings.Builder
	b.WriteString(result.Stdout)
	if result.Stderr != "" {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString("STDERR:\n")
		b.WriteString(result.Stderr)
	}
	if result.TimedOut {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString("(command timed out)")
	}
	if result.ExitCode != 0 {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("Exit code: %d", result.ExitCode))
	}
	out := b.String()
	if len(out) > maxExecOutput {
		out = out[:maxExecOutput] + "\n... (output truncated)"
	}
	if out == "" {
		out = "(no output)"
	}
	return out
}
