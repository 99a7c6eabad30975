// Package sessions persists per-owner conversation history and
// serializes turns with per-owner locks.
package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/relaylabs/relay/pkg/models"
)

// Store keeps one JSONL file per owner under the state directory.
// Records are appended one JSON object per line; Rewrite replaces the
// whole file and exists for memory consolidation only.
type Store struct {
	logger *slog.Logger
	dir    string

	// mu guards concurrent file access per owner. The turn lock
	// already serializes writers for live turns; this protects
	// CLI-driven reads racing a turn.
	mu sync.Mutex
}

// NewStore creates the store, creating dir (0700) if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("sessions: state dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sessions: create state dir: %w", err)
	}
	return &Store{
		logger: slog.Default().With("component", "sessions"),
		dir:    dir,
	}, nil
}

// Load reads the owner's session. A missing file yields an empty
// session; corrupt lines are skipped with a warning so one bad write
// cannot wedge the conversation.
func (s *Store) Load(ownerKey string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &models.Session{
		OwnerKey:     ownerKey,
		CreatedAtMs:  time.Now().UnixMilli(),
		LastUsedAtMs: time.Now().UnixMilli(),
	}

	file, err := os.Open(s.path(ownerKey))
	if err != nil {
		if os.IsNotExist(err) {
			return session, nil
		}
		return nil, fmt.Errorf("sessions: open %s: %w", ownerKey, err)
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil {
		session.CreatedAtMs = info.ModTime().UnixMilli()
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var record models.TurnRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			s.logger.Warn("skipping corrupt session record",
				"owner", ownerKey, "line", line, "error", err)
			continue
		}
		session.Records = append(session.Records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sessions: read %s: %w", ownerKey, err)
	}
	return session, nil
}

// Append adds records to the owner's history.
func (s *Store) Append(ownerKey string, records ...models.TurnRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path(ownerKey), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("sessions: append %s: %w", ownerKey, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		raw, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("sessions: marshal record: %w", err)
		}
		writer.Write(raw)
		writer.WriteByte('\n')
	}
	return writer.Flush()
}

// Rewrite replaces the owner's history atomically. Only memory
// consolidation calls this; everything else appends.
func (s *Store) Rewrite(ownerKey string, records []models.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(ownerKey)
	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("sessions: rewrite %s: %w", ownerKey, err)
	}
	writer := bufio.NewWriter(file)
	for _, record := range records {
		raw, err := json.Marshal(record)
		if err != nil {
			file.Close()
			os.Remove(tmp)
			return fmt.Errorf("sessions: marshal record: %w", err)
		}
		writer.Write(raw)
		writer.WriteByte('\n')
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Delete removes the owner's history.
func (s *Store) Delete(ownerKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(ownerKey))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// path maps an owner key to its JSONL file. The sanitized name keeps
// files recognizable; the hash suffix keeps distinct keys distinct.
func (s *Store) path(ownerKey string) string {
	h := fnv.New32a()
	h.Write([]byte(ownerKey))
	return filepath.Join(s.dir, fmt.Sprintf("%s-%08x.jsonl", sanitizeOwner(ownerKey), h.Sum32()))
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
