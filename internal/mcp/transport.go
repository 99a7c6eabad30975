package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// stdioTransport runs the server subprocess and multiplexes JSON-RPC
// requests over its stdin/stdout, one message per line.
type stdioTransport struct {
	config *ServerConfig
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *jsonrpcResponse
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func newStdioTransport(cfg *ServerConfig) *stdioTransport {
	return &stdioTransport{
		config:   cfg,
		logger:   slog.Default().With("component", "mcp", "server", cfg.Name),
		pending:  make(map[int64]chan *jsonrpcResponse),
		stopChan: make(chan struct{}),
	}
}

// minimalEnv builds the subprocess environment: the configured vars
// plus the few host vars servers commonly need. Nothing else from the
// parent environment leaks through.
func minimalEnv(configured map[string]string) []string {
	env := make([]string, 0, len(configured)+3)
	for _, key := range []string{"PATH", "HOME", "LANG"} {
		if value := os.Getenv(key); value != "" {
			env = append(env, key+"="+value)
		}
	}
	for key, value := range configured {
		env = append(env, key+"="+value)
	}
	return env
}

// connect starts the subprocess and the stdout reader.
func (t *stdioTransport) connect() error {
	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = minimalEnv(t.config.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.config.Command, err)
	}
	t.process = cmd
	t.stdin = stdin
	t.connected.Store(true)
	t.logger.Info("mcp server started", "command", t.config.Command, "pid", cmd.Process.Pid)

	t.wg.Add(2)
	go t.readLoop(stdout)
	go t.logStderr(stderr)
	go func() {
		// A server that exits stays dead; no auto-restart.
		err := cmd.Wait()
		if t.connected.CompareAndSwap(true, false) {
			t.logger.Warn("mcp server exited", "error", err)
		}
		t.failPending()
	}()
	return nil
}

func (t *stdioTransport) alive() bool { return t.connected.Load() }

// close stops the subprocess and releases all waiters.
func (t *stdioTransport) close() {
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.connected.Store(false)
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		t.process.Process.Kill()
	}
	t.wg.Wait()
	t.failPending()
}

// call sends a request and waits for the matching response.
func (t *stdioTransport) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if !t.alive() {
		return nil, fmt.Errorf("server %s is not running", t.config.Name)
	}

	id := t.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	respChan := make(chan *jsonrpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeLine(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-respChan:
		if resp == nil {
			return nil, fmt.Errorf("server %s is not running", t.config.Name)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("mcp error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%s timed out after %v", method, timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

// notify sends a notification; no response is expected.
func (t *stdioTransport) notify(method string) error {
	if !t.alive() {
		return fmt.Errorf("server %s is not running", t.config.Name)
	}
	return t.writeLine(jsonrpcNotification{JSONRPC: "2.0", Method: method})
}

func (t *stdioTransport) writeLine(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.stdin.Write(append(data, '\n'))
	return err
}

func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp jsonrpcResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
			// Server-initiated notifications and garbage are ignored.
			continue
		}
		id, ok := numericID(resp.ID)
		if !ok {
			continue
		}
		t.pendingMu.Lock()
		waiter := t.pending[id]
		t.pendingMu.Unlock()
		if waiter != nil {
			waiter <- &resp
		}
	}
}

func (t *stdioTransport) logStderr(stderr io.Reader) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("mcp server stderr", "line", scanner.Text())
	}
}

// failPending wakes all in-flight callers after the process dies.
// Waiters receive nil and report the server as not running.
func (t *stdioTransport) failPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, waiter := range t.pending {
		select {
		case waiter <- nil:
		default:
		}
		delete(t.pending, id)
	}
}

func numericID(id any) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
