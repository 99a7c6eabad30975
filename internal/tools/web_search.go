package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/relaylabs/relay/pkg/models"
)

const braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

// WebSearchTool queries the Brave web search API.
type WebSearchTool struct {
	apiKey   string
	client   *http.Client
	endpoint string
}

// NewWebSearchTool creates the web_search tool. An empty API key is
// allowed at construction; execution then reports "not configured".
func NewWebSearchTool(apiKey string) *WebSearchTool {
	return &WebSearchTool{
		apiKey:   strings.TrimSpace(apiKey),
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: braveSearchEndpoint,
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return titles, URLs, and snippets."
}

func (t *WebSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query."},
			"count": {"type": "integer", "description": "Number of results (1-10).", "minimum": 1, "maximum": 10}
		},
		"required": ["query"]
	}`)
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if t.apiKey == "" {
		return models.Errorf("web_search is not configured: missing API key"), nil
	}
	var input struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return models.Errorf("query is required"), nil
	}
	count := input.Count
	if count < 1 {
		count = 5
	}
	if count > 10 {
		count = 10
	}

	reqURL := t.endpoint + "?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.Errorf(fmt.Sprintf("build request: %v", err)), nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return models.Errorf(fmt.Sprintf("search request failed: %v", err)), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Errorf(fmt.Sprintf("search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))), nil
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.Errorf(fmt.Sprintf("decode search response: %v", err)), nil
	}
	if len(parsed.Web.Results) == 0 {
		return models.Success("No results found for: " + query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n\n", query)
	for i, r := range parsed.Web.Results {
		if i >= count {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&b, "   %s\n", r.Description)
		}
		b.WriteString("\n")
	}
	return models.Success(strings.TrimSpace(b.String())), nil
}
