package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// directExecutor performs host I/O with path policy but no kernel
// isolation. Test and development only.
type directExecutor struct {
	cfg Config
}

func newDirectExecutor(cfg Config) *directExecutor {
	return &directExecutor{cfg: cfg}
}

func (e *directExecutor) Sandboxed() bool { return false }

func (e *directExecutor) Close() error { return nil }

func (e *directExecutor) ReadFile(ctx context.Context, path string) (string, error) {
	p, err := resolvePath(e.cfg.Workspace, path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if info.Size() > e.cfg.MaxFileSize {
		return "", fmt.Errorf("file %s exceeds maximum size of %d bytes", path, e.cfg.MaxFileSize)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e *directExecutor) WriteFile(ctx context.Context, path string, content []byte) error {
	p, err := resolvePath(e.cfg.Workspace, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	return os.WriteFile(p, content, 0o644)
}

func (e *directExecutor) ListDir(ctx context.Context, path string) ([]string, error) {
	p, err := resolvePath(e.cfg.Workspace, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (e *directExecutor) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	return runCommand(ctx, []string{"sh", "-c", command}, "", e.cfg.Workspace, timeout, e.cfg.MaxOutputBytes)
}
