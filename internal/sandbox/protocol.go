package sandbox

// Wire protocol between the service executor and the sandbox helper:
// line-delimited JSON over a unix socket. Each request carries a
// monotonically increasing id; responses are matched by id.

// Operation names.
const (
	OpReadFile  = "read_file"
	OpWriteFile = "write_file"
	OpListDir   = "list_dir"
	OpExec      = "exec"
	OpPing      = "ping"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is one sandbox operation.
type Request struct {
	ID      string `json:"id"`
	Op      string `json:"op"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"` // base64 for write_file
	Command string `json:"command,omitempty"`
	Stdin   string `json:"stdin,omitempty"`
	Timeout int    `json:"timeout,omitempty"` // seconds
}

// Response answers a request with the matching ID.
type Response struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Data     string `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}
