package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// oneShotExecutor spawns a fresh bwrap invocation per operation.
// Roughly 15x slower than the service backend but has no persistent
// helper to manage.
type oneShotExecutor struct {
	cfg Config
}

func newOneShotExecutor(cfg Config) *oneShotExecutor {
	return &oneShotExecutor{cfg: cfg}
}

func (e *oneShotExecutor) Sandboxed() bool { return true }

func (e *oneShotExecutor) Close() error { return nil }

// run executes a shell command inside a fresh sandbox.
func (e *oneShotExecutor) run(ctx context.Context, command string, stdin string, timeout time.Duration, maxOutput int) (*ExecResult, error) {
	argv := bwrapArgs(e.cfg.BubblewrapPath, e.cfg.Workspace)
	argv = append(argv, "sh", "-c", command)
	return runCommand(ctx, argv, stdin, e.cfg.Workspace, timeout, maxOutput)
}

func (e *oneShotExecutor) ReadFile(ctx context.Context, path string) (string, error) {
	p, err := resolvePath(e.cfg.Workspace, path)
	if err != nil {
		return "", err
	}
	// Read one byte past the cap so oversize files are detectable.
	cmd := fmt.Sprintf("head -c %d %s", e.cfg.MaxFileSize+1, shellQuote(p))
	result, err := e.run(ctx, cmd, "", DefaultExecTimeout, int(e.cfg.MaxFileSize)+1)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("read %s: %s", path, strings.TrimSpace(result.Stderr))
	}
	if int64(len(result.Stdout)) > e.cfg.MaxFileSize {
		return "", fmt.Errorf("file %s exceeds maximum size of %d bytes", path, e.cfg.MaxFileSize)
	}
	return result.Stdout, nil
}

func (e *oneShotExecutor) WriteFile(ctx context.Context, path string, content []byte) error {
	p, err := resolvePath(e.cfg.Workspace, path)
	if err != nil {
		return err
	}
	// Content travels base64-encoded through the shell to avoid
	// quoting ambiguity.
	cmd := fmt.Sprintf("mkdir -p %s && base64 -d > %s",
		shellQuote(filepath.Dir(p)), shellQuote(p))
	result, err := e.run(ctx, cmd, base64.StdEncoding.EncodeToString(content), DefaultExecTimeout, e.cfg.MaxOutputBytes)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("write %s: %s", path, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (e *oneShotExecutor) ListDir(ctx context.Context, path string) ([]string, error) {
	p, err := resolvePath(e.cfg.Workspace, path)
	if err != nil {
		return nil, err
	}
	result, err := e.run(ctx, "ls -1Ap "+shellQuote(p), "", DefaultExecTimeout, e.cfg.MaxOutputBytes)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("list %s: %s", path, strings.TrimSpace(result.Stderr))
	}
	var names []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (e *oneShotExecutor) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	return e.run(ctx, command, "", timeout, e.cfg.MaxOutputBytes)
}

// shellQuote single-quotes s for safe interpolation into sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
