package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/relaylabs/relay/internal/ssrf"
	"github.com/relaylabs/relay/pkg/models"
)

const (
	defaultFetchMaxChars = 20000
	maxRedirects         = 5
	fetchBodyLimit       = 4 << 20
)

// WebFetchTool fetches a URL and extracts readable content. Every
// URL, including each redirect target, passes SSRF validation.
type WebFetchTool struct {
	resolver ssrf.Resolver
	timeout  time.Duration

	// dial is swappable in tests to observe or block connections.
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewWebFetchTool creates the web_fetch tool.
func NewWebFetchTool() *WebFetchTool {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &WebFetchTool{
		timeout: 30 * time.Second,
		dial:    dialer.DialContext,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its content as readable text."
}

func (t *WebFetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "HTTP or HTTPS URL to fetch."},
			"max_chars": {"type": "integer", "description": "Truncate content to this many characters.", "minimum": 100}
		},
		"required": ["url"]
	}`)
}

func (t *WebFetchTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		URL      string `json:"url"`
		MaxChars int    `json:"max_chars"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	maxChars := input.MaxChars
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body, contentType, err := t.fetch(ctx, input.URL, 0)
	if err != nil {
		if _, ok := err.(*ssrf.BlockedError); ok {
			return models.AccessDenied(err.Error()), nil
		}
		return models.Errorf(fmt.Sprintf("Fetch failed: %v", err)), nil
	}

	content := extractContent(body, contentType)
	if len(content) > maxChars {
		notice := fmt.Sprintf("(content truncated to %d of %d characters)\n\n", maxChars, len(content))
		content = notice + content[:maxChars]
	}
	return models.Success(content), nil
}

// fetch validates the URL, performs the request, and follows
// redirects manually so each hop is re-validated.
func (t *WebFetchTool) fetch(ctx context.Context, rawURL string, depth int) ([]byte, string, error) {
	if depth > maxRedirects {
		return nil, "", fmt.Errorf("too many redirects (max %d)", maxRedirects)
	}
	validated, err := ssrf.ValidateURL(rawURL, t.resolver)
	if err != nil {
		return nil, "", err
	}

	client := &http.Client{
		Transport: t.transportFor(validated),
		// Redirects handled manually below.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validated.URL.String(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "relay/1.0 (+https://github.com/relaylabs/relay)")
	req.Header.Set("Accept", "text/html, application/json;q=0.9, */*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, "", fmt.Errorf("redirect without Location header")
		}
		next, err := validated.URL.Parse(location)
		if err != nil {
			return nil, "", fmt.Errorf("invalid redirect target: %w", err)
		}
		return t.fetch(ctx, next.String(), depth+1)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// transportFor pins plain-HTTP connections to a validated IP so a
// DNS rebind between validation and dial cannot redirect the fetch.
// HTTPS dials by hostname: SNI plus certificate validation already
// ties the connection to the name that was validated.
func (t *WebFetchTool) transportFor(v *ssrf.Validated) http.RoundTripper {
	transport := &http.Transport{
		DialContext:       t.dial,
		ForceAttemptHTTP2: true,
	}
	if v.URL.Scheme == "http" && len(v.IPs) > 0 {
		pinned := v.IPs[0].String()
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			return t.dial(ctx, network, net.JoinHostPort(pinned, port))
		}
	}
	return transport
}
