package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relaylabs/relay/pkg/models"
)

// fileDocument is the persisted shape of the job store.
type fileDocument struct {
	Jobs []*models.CronJob `json:"jobs"`
}

// FileStore persists the full job set to one JSON file on every
// mutation. File mode 0600, parent directory 0700.
type FileStore struct {
	path string
}

// NewFileStore creates the store and its parent directory.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cron: store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("cron: create store dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load reads all persisted jobs. A missing file is an empty store.
func (s *FileStore) Load() ([]*models.CronJob, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cron: read store: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cron: parse store: %w", err)
	}
	return doc.Jobs, nil
}

// Save writes the full job set atomically.
func (s *FileStore) Save(jobs []*models.CronJob) error {
	data, err := json.MarshalIndent(fileDocument{Jobs: jobs}, "", "  ")
	if err != nil {
		return fmt.Errorf("cron: encode store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("cron: write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("cron: replace store: %w", err)
	}
	return nil
}
