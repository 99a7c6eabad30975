// Package sandbox routes all tool filesystem and shell I/O through a
// single executor. When the executor is configured with a kernel
// sandbox, every tool operation is confined to the workspace.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/relaylabs/relay/internal/shellsafe"
)

// Mode selects the executor backend.
type Mode string

const (
	// ModeService runs a persistent helper process inside bwrap,
	// reached over a unix socket. Preferred.
	ModeService Mode = "service"

	// ModeOneShot spawns a fresh bwrap invocation per operation.
	// Simpler and much slower.
	ModeOneShot Mode = "oneshot"

	// ModeNone performs direct host I/O. Test and dev only.
	ModeNone Mode = "none"
)

// Defaults for executor limits.
const (
	DefaultMaxFileSize    = 1 << 20 // 1 MiB
	DefaultMaxOutputBytes = 10 << 10
	DefaultMaxRecoveries  = 2
	DefaultExecTimeout    = 60 * time.Second

	// termGrace is how long Exec waits between SIGTERM and SIGKILL.
	termGrace = 500 * time.Millisecond
)

// Config configures an executor.
type Config struct {
	Mode      Mode
	Workspace string

	// BubblewrapPath is the sandbox binary. Default "bwrap".
	BubblewrapPath string

	// HelperCommand runs inside the sandbox as the persistent
	// service. Default: the current executable with the
	// "sandbox-helper" subcommand.
	HelperCommand []string

	// SocketPath for the service backend.
	// Default /tmp/relay-sandbox-<pid>.sock.
	SocketPath string

	MaxFileSize    int64
	MaxOutputBytes int
	MaxRecoveries  int
}

func (c *Config) applyDefaults() error {
	if c.Workspace == "" {
		return fmt.Errorf("sandbox: workspace is required")
	}
	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("sandbox: resolve workspace: %w", err)
	}
	c.Workspace = abs
	if c.BubblewrapPath == "" {
		c.BubblewrapPath = "bwrap"
	}
	if c.SocketPath == "" {
		c.SocketPath = fmt.Sprintf("/tmp/relay-sandbox-%d.sock", os.Getpid())
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.MaxRecoveries <= 0 {
		c.MaxRecoveries = DefaultMaxRecoveries
	}
	return nil
}

// ExecResult is the outcome of a shell execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Executor is the single gateway for tool I/O. Implementations must
// not let any operation reach outside the workspace when sandboxed.
type Executor interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	ListDir(ctx context.Context, path string) ([]string, error)
	Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error)

	// Sandboxed reports whether kernel isolation is active.
	Sandboxed() bool
	Close() error
}

// New constructs the executor for the configured mode.
// Selecting a sandboxed mode when bwrap is unavailable is a
// configuration error, not a silent fallback.
func New(cfg Config) (Executor, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeNone:
		return newDirectExecutor(cfg), nil
	case ModeOneShot:
		if err := checkBubblewrap(cfg.BubblewrapPath); err != nil {
			return nil, err
		}
		return newOneShotExecutor(cfg), nil
	case ModeService, "":
		if err := checkBubblewrap(cfg.BubblewrapPath); err != nil {
			return nil, err
		}
		return newServiceExecutor(cfg)
	default:
		return nil, fmt.Errorf("sandbox: unknown mode %q", cfg.Mode)
	}
}

// DeniedError marks a policy denial (workspace escape, .env access).
// Tools translate it to an access-denied result.
type DeniedError struct {
	Message string
}

func (e *DeniedError) Error() string { return e.Message }

func denied(format string, args ...any) *DeniedError {
	return &DeniedError{Message: fmt.Sprintf(format, args...)}
}

// IsDenied reports whether err is a policy denial.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}

// resolvePath canonicalizes path relative to the workspace and
// rejects .env files and workspace escapes.
func resolvePath(workspace, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	if shellsafe.IsEnvFile(path) {
		return "", denied("access to .env files is not allowed")
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(workspace, p)
	}
	p = filepath.Clean(p)
	if p != workspace && !strings.HasPrefix(p, workspace+string(filepath.Separator)) {
		return "", denied("path %q is outside the workspace", path)
	}
	return p, nil
}

func checkBubblewrap(path string) error {
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("sandbox: %s not found; install bubblewrap or set sandbox mode to %q: %w",
			path, ModeNone, err)
	}
	return nil
}
