package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// capWriter captures up to max bytes and remembers whether output
// was truncated.
type capWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCapWriter(max int) *capWriter {
	return &capWriter{max: max}
}

func (w *capWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	remaining := w.max - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

func (w *capWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.buf.String()
	if w.truncated {
		s += fmt.Sprintf("\n... (output truncated at %d bytes)", w.max)
	}
	return s
}

// runCommand executes argv with the timeout escalation contract:
// SIGTERM, a short grace period, then SIGKILL. Stdout and stderr are
// truncated at maxOutput bytes per stream.
func runCommand(ctx context.Context, argv []string, stdin string, dir string, timeout time.Duration, maxOutput int) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	if stdin != "" {
		cmd.Stdin = bytes.NewBufferString(stdin)
	}
	stdout := newCapWriter(maxOutput)
	stderr := newCapWriter(maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	timedOut := false
	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		terminate(cmd, done)
		return nil, ctx.Err()
	case <-timer.C:
		timedOut = true
		terminate(cmd, done)
	}

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: timedOut,
	}
	if timedOut {
		result.ExitCode = -1
		return result, nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("wait %s: %w", argv[0], waitErr)
	}
	return result, nil
}

// terminate sends SIGTERM to the process group, waits the grace
// period, then SIGKILLs and reaps.
func terminate(cmd *exec.Cmd, done chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(termGrace):
	}
	_ = syscall.Kill(pgid, syscall.SIGKILL)
	<-done
}
