package sandbox

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Helper is the server side of the sandbox wire protocol. It runs
// inside the kernel sandbox (spawned under bwrap by the service
// executor) and performs operations directly; confinement comes from
// the namespace it runs in, not from path checks here — the client
// validates paths before sending.
type Helper struct {
	socketPath string
	workspace  string
	maxOutput  int
	logger     *slog.Logger
}

// NewHelper creates a sandbox helper server.
func NewHelper(socketPath, workspace string) *Helper {
	return &Helper{
		socketPath: socketPath,
		workspace:  workspace,
		maxOutput:  DefaultMaxOutputBytes,
		logger:     slog.Default().With("component", "sandbox-helper"),
	}
}

// Serve listens on the unix socket and handles connections until ctx
// is cancelled. The socket is created mode 0600.
func (h *Helper) Serve(ctx context.Context) error {
	_ = os.Remove(h.socketPath)
	listener, err := net.Listen("unix", h.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(h.socketPath)

	if err := os.Chmod(h.socketPath, 0o600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	h.logger.Info("sandbox helper listening", "socket", h.socketPath, "workspace", h.workspace)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		h.HandleConn(ctx, conn)
	}
}

// HandleConn serves one connection, one request per line. Exported
// for tests, which drive it over a net.Pipe.
func (h *Helper) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			h.logger.Warn("malformed request", "error", err)
			continue
		}
		resp := h.handle(ctx, &req)
		if err := writeResponse(writer, resp); err != nil {
			h.logger.Warn("write response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		h.logger.Warn("connection read", "error", err)
	}
}

func writeResponse(w *bufio.Writer, resp *Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(payload, '\n')); err != nil {
		return err
	}
	return w.Flush()
}

func (h *Helper) handle(ctx context.Context, req *Request) *Response {
	switch req.Op {
	case OpPing:
		return &Response{ID: req.ID, Status: StatusOK}
	case OpReadFile:
		return h.readFile(req)
	case OpWriteFile:
		return h.writeFile(req)
	case OpListDir:
		return h.listDir(req)
	case OpExec:
		return h.exec(ctx, req)
	default:
		return errResponse(req.ID, "unknown op %q", req.Op)
	}
}

func errResponse(id, format string, args ...any) *Response {
	return &Response{ID: id, Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

func (h *Helper) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(h.workspace, path)
}

func (h *Helper) readFile(req *Request) *Response {
	data, err := os.ReadFile(h.abs(req.Path))
	if err != nil {
		return errResponse(req.ID, "read %s: %v", req.Path, err)
	}
	return &Response{ID: req.ID, Status: StatusOK, Data: string(data)}
}

func (h *Helper) writeFile(req *Request) *Response {
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		return errResponse(req.ID, "decode content: %v", err)
	}
	p := h.abs(req.Path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errResponse(req.ID, "create parent directories: %v", err)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return errResponse(req.ID, "write %s: %v", req.Path, err)
	}
	return &Response{ID: req.ID, Status: StatusOK}
}

func (h *Helper) listDir(req *Request) *Response {
	entries, err := os.ReadDir(h.abs(req.Path))
	if err != nil {
		return errResponse(req.ID, "list %s: %v", req.Path, err)
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
	payload, err := json.Marshal(names)
	if err != nil {
		return errResponse(req.ID, "encode entries: %v", err)
	}
	return &Response{ID: req.ID, Status: StatusOK, Data: string(payload)}
}

func (h *Helper) exec(ctx context.Context, req *Request) *Response {
	timeout := time.Duration(req.Timeout) * time.Second
	result, err := runCommand(ctx, []string{"sh", "-c", req.Command}, req.Stdin, h.workspace, timeout, h.maxOutput)
	if err != nil {
		return errResponse(req.ID, "exec: %v", err)
	}
	code := result.ExitCode
	return &Response{
		ID:       req.ID,
		Status:   StatusOK,
		Data:     result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: &code,
		TimedOut: result.TimedOut,
	}
}
