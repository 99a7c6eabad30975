// Package memory consolidates old session history into a per-owner
// long-term memory document so the context window stays bounded.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/relaylabs/relay/internal/providers"
	"github.com/relaylabs/relay/internal/sessions"
	"github.com/relaylabs/relay/pkg/models"
)

// DefaultWindow is the number of recent records kept verbatim.
const DefaultWindow = 40

const summarizePrompt = `Summarize the following conversation excerpt into concise notes.
Keep: user preferences, facts about the user, decisions made, open tasks, important context.
Drop: greetings, filler, resolved back-and-forth.
Write plain prose bullet points. This summary becomes long-term memory for future conversations.`

// Manager runs windowed consolidation: when an owner's history
// exceeds twice the window, the oldest records are summarized into
// the memory document and the session is rewritten to the window.
type Manager struct {
	logger   *slog.Logger
	store    *sessions.Store
	locker   *sessions.Locker
	provider providers.Provider
	dir      string
	window   int
	model    string
}

// Config configures the consolidation manager.
type Config struct {
	Dir    string // memory documents live here, one per owner
	Window int    // records kept verbatim; 0 means DefaultWindow
	Model  string // summarization model; empty uses provider default
}

// NewManager creates the manager. dir is created 0700.
func NewManager(cfg Config, store *sessions.Store, locker *sessions.Locker, provider providers.Provider) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("memory: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("memory: create dir: %w", err)
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{
		logger:   slog.Default().With("component", "memory"),
		store:    store,
		locker:   locker,
		provider: provider,
		dir:      cfg.Dir,
		window:   window,
		model:    cfg.Model,
	}, nil
}

// Document returns the owner's long-term memory document, or "" when
// none exists yet.
func (m *Manager) Document(ownerKey string) string {
	data, err := os.ReadFile(m.docPath(ownerKey))
	if err != nil {
		return ""
	}
	return string(data)
}

// MaybeConsolidate consolidates the owner's history if it has grown
// past 2x the window. It takes the turn lock opportunistically: when
// a turn is in flight it does nothing and the next call retries.
func (m *Manager) MaybeConsolidate(ctx context.Context, ownerKey string) error {
	session, err := m.store.Load(ownerKey)
	if err != nil {
		return err
	}
	if len(session.Records) <= 2*m.window {
		return nil
	}

	release, ok := m.locker.TryAcquire(ownerKey)
	if !ok {
		m.logger.Debug("consolidation deferred, turn in flight", "owner", ownerKey)
		return nil
	}
	defer release()

	// Reload under the lock; a turn may have appended meanwhile.
	session, err = m.store.Load(ownerKey)
	if err != nil {
		return err
	}
	if len(session.Records) <= 2*m.window {
		return nil
	}

	cut := len(session.Records) - m.window
	// Never split a tool call from its result.
	for cut > 0 && session.Records[cut].Kind == models.RecordToolResult {
		cut--
	}
	if cut <= 0 {
		return nil
	}
	old, recent := session.Records[:cut], session.Records[cut:]

	summary, err := m.summarize(ctx, old)
	if err != nil {
		return fmt.Errorf("memory: summarize %s: %w", ownerKey, err)
	}
	if err := m.appendDocument(ownerKey, summary); err != nil {
		return err
	}
	if err := m.store.Rewrite(ownerKey, recent); err != nil {
		return err
	}
	m.logger.Info("session consolidated",
		"owner", ownerKey,
		"summarized", len(old),
		"kept", len(recent))
	return nil
}

func (m *Manager) summarize(ctx context.Context, records []models.TurnRecord) (string, error) {
	resp, err := m.provider.Chat(ctx, &providers.ChatRequest{
		Model:  m.model,
		System: summarizePrompt,
		Messages: []providers.ChatMessage{
			{Role: "user", Content: renderRecords(records)},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// renderRecords flattens history into readable text for the
// summarizer.
func renderRecords(records []models.TurnRecord) string {
	var b strings.Builder
	for _, record := range records {
		switch record.Kind {
		case models.RecordUser:
			fmt.Fprintf(&b, "User: %s\n", record.Content)
		case models.RecordAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", record.Content)
		case models.RecordToolCall:
			fmt.Fprintf(&b, "[called %s]\n", record.ToolName)
		case models.RecordToolResult:
			content := record.Content
			if len(content) > 400 {
				content = content[:400] + "…"
			}
			fmt.Fprintf(&b, "[%s result: %s]\n", record.Status, content)
		}
	}
	return b.String()
}

func (m *Manager) appendDocument(ownerKey, summary string) error {
	if summary == "" {
		return nil
	}
	path := m.docPath(ownerKey)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("memory: open document: %w", err)
	}
	defer file.Close()
	stamp := time.Now().UTC().Format("2006-01-02")
	_, err = fmt.Fprintf(file, "## %s\n%s\n\n", stamp, summary)
	return err
}

func (m *Manager) docPath(ownerKey string) string {
	return filepath.Join(m.dir, sanitizeOwner(ownerKey)+".md")
}

func sanitizeOwner(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
