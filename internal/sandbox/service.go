package sandbox

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// serviceExecutor talks to a persistent helper process running
// inside bwrap over a unix socket. One connection is shared; requests
// are serialized by a send mutex and matched to responses by id.
type serviceExecutor struct {
	cfg    Config
	logger *slog.Logger

	nextID atomic.Int64

	mu     sync.Mutex // serializes the request/response round-trip
	conn   net.Conn
	reader *bufio.Reader
	proc   *exec.Cmd
	exited atomic.Bool
	closed bool
}

func newServiceExecutor(cfg Config) (*serviceExecutor, error) {
	e := &serviceExecutor{
		cfg:    cfg,
		logger: slog.Default().With("component", "sandbox"),
	}
	if err := e.start(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *serviceExecutor) Sandboxed() bool { return true }

// start spawns the helper under bwrap and connects to its socket.
func (e *serviceExecutor) start() error {
	helper := e.cfg.HelperCommand
	if len(helper) == 0 {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("sandbox: locate executable: %w", err)
		}
		helper = []string{self, "sandbox-helper"}
	}

	argv := bwrapArgs(e.cfg.BubblewrapPath, e.cfg.Workspace)
	argv = append(argv, helper...)
	argv = append(argv,
		"--socket", e.cfg.SocketPath,
		"--workspace", e.cfg.Workspace,
	)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sandbox: start helper: %w", err)
	}
	e.proc = cmd
	e.exited.Store(false)
	go func() {
		err := cmd.Wait()
		e.exited.Store(true)
		if err != nil {
			e.logger.Warn("sandbox helper exited", "error", err)
		}
	}()

	if err := e.connect(); err != nil {
		e.stopHelper()
		return err
	}
	e.logger.Info("sandbox helper started",
		"pid", cmd.Process.Pid, "socket", e.cfg.SocketPath)
	return nil
}

// bwrapArgs builds the isolation arguments: workspace bound
// read-write at the same path, system directories read-only, fresh
// namespaces, /tmp shared so the socket is reachable from outside.
func bwrapArgs(bwrap, workspace string) []string {
	argv := []string{
		bwrap,
		"--die-with-parent",
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		"--proc", "/proc",
		"--dev", "/dev",
	}
	for _, dir := range []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/etc/alternatives", "/etc/ssl", "/etc/resolv.conf"} {
		if _, err := os.Stat(dir); err == nil {
			argv = append(argv, "--ro-bind", dir, dir)
		}
	}
	argv = append(argv,
		"--bind", workspace, workspace,
		"--bind", "/tmp", "/tmp",
		"--chdir", workspace,
		"--",
	)
	return argv
}

// connect dials the helper socket, retrying until the helper has had
// time to bind it.
func (e *serviceExecutor) connect() error {
	deadline := time.Now().Add(5 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", e.cfg.SocketPath)
		if err == nil {
			e.conn = conn
			e.reader = bufio.NewReaderSize(conn, 64*1024)
			return nil
		}
		lastErr = err
		if e.exited.Load() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("sandbox: connect helper socket: %w", lastErr)
}

// call performs one request/response round-trip, recovering from
// helper crashes up to MaxRecoveries times.
func (e *serviceExecutor) call(ctx context.Context, req *Request) (*Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("sandbox: executor closed")
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRecoveries; attempt++ {
		if attempt > 0 {
			// Do not respawn a helper that shut down on its own
			// terms while the socket still answered.
			if !e.exited.Load() && lastErr != nil && !isConnError(lastErr) {
				break
			}
			e.logger.Warn("recovering sandbox helper",
				"attempt", attempt, "error", lastErr)
			if err := e.recoverLocked(); err != nil {
				lastErr = err
				continue
			}
		}
		resp, err := e.roundTrip(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isConnError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("sandbox: helper unavailable after %d recoveries: %w",
		e.cfg.MaxRecoveries, lastErr)
}

func (e *serviceExecutor) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	req.ID = fmt.Sprintf("req-%d", e.nextID.Add(1))

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = e.conn.SetDeadline(deadline)
	} else {
		_ = e.conn.SetDeadline(time.Time{})
	}
	if _, err := e.conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	line, err := e.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %q does not match request id %q", resp.ID, req.ID)
	}
	return &resp, nil
}

// isConnError distinguishes socket I/O failures (recoverable via
// respawn) from protocol or application errors.
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}

// recoverLocked tears down remnants and starts a fresh helper.
// Caller holds e.mu.
func (e *serviceExecutor) recoverLocked() error {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.stopHelper()
	_ = os.Remove(e.cfg.SocketPath)
	return e.start()
}

func (e *serviceExecutor) stopHelper() {
	if e.proc == nil || e.proc.Process == nil {
		return
	}
	pgid := -e.proc.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	for i := 0; i < 10 && !e.exited.Load(); i++ {
		time.Sleep(50 * time.Millisecond)
	}
	if !e.exited.Load() {
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	}
	e.proc = nil
}

func (e *serviceExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.stopHelper()
	_ = os.Remove(e.cfg.SocketPath)
	return nil
}

func (e *serviceExecutor) ReadFile(ctx context.Context, path string) (string, error) {
	p, err := resolvePath(e.cfg.Workspace, path)
	if err != nil {
		return "", err
	}
	resp, err := e.call(ctx, &Request{Op: OpReadFile, Path: p})
	if err != nil {
		return "", err
	}
	if resp.Status != StatusOK {
		return "", errors.New(resp.Error)
	}
	if int64(len(resp.Data)) > e.cfg.MaxFileSize {
		return "", fmt.Errorf("file %s exceeds maximum size of %d bytes", path, e.cfg.MaxFileSize)
	}
	return resp.Data, nil
}

func (e *serviceExecutor) WriteFile(ctx context.Context, path string, content []byte) error {
	p, err := resolvePath(e.cfg.Workspace, path)
	if err != nil {
		return err
	}
	resp, err := e.call(ctx, &Request{
		Op:      OpWriteFile,
		Path:    p,
		Content: base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		return err
	}
	if resp.Status != StatusOK {
		return errors.New(resp.Error)
	}
	return nil
}

func (e *serviceExecutor) ListDir(ctx context.Context, path string) ([]string, error) {
	p, err := resolvePath(e.cfg.Workspace, path)
	if err != nil {
		return nil, err
	}
	resp, err := e.call(ctx, &Request{Op: OpListDir, Path: p})
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return nil, errors.New(resp.Error)
	}
	var names []string
	if err := json.Unmarshal([]byte(resp.Data), &names); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return names, nil
}

func (e *serviceExecutor) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	resp, err := e.call(ctx, &Request{
		Op:      OpExec,
		Command: command,
		Timeout: int(timeout / time.Second),
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return nil, errors.New(resp.Error)
	}
	result := &ExecResult{
		Stdout:   resp.Data,
		Stderr:   resp.Stderr,
		TimedOut: resp.TimedOut,
	}
	if resp.ExitCode != nil {
		result.ExitCode = *resp.ExitCode
	}
	return result, nil
}
