package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/smallnest/clawgate/config"
)

// Store persists job definitions as a JSON file with atomic writes.
type Store struct {
	mu       sync.Mutex
	filePath string
}

// NewStore creates a job store, creating the parent directory if needed.
// An empty path falls back to cron/jobs.json under the data directory.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		dataDir, err := config.DataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default store path: %w", err)
		}
		filePath = filepath.Join(dataDir, "cron", "jobs.json")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{filePath: filePath}, nil
}

// SaveJobs writes all jobs atomically: temp file, backup, rename.
func (s *Store) SaveJobs(jobs []*Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal jobs: %w", err)
	}

	tempPath := s.filePath + ".tmp"
	backupPath := s.filePath + ".bak"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if _, err := os.Stat(s.filePath); err == nil {
		_ = os.Remove(backupPath)
		_ = os.Rename(s.filePath, backupPath)
	}

	if err := os.Rename(tempPath, s.filePath); err != nil {
		_ = os.Rename(backupPath, s.filePath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	_ = os.Remove(backupPath)
	return nil
}

// LoadJobs reads all jobs. A missing file is an empty job list.
func (s *Store) LoadJobs() ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Job{}, nil
		}
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal jobs: %w", err)
	}

	// A crashed run leaves RunningAt set; nothing is actually running at
	// load time.
	for _, job := range jobs {
		job.State.RunningAt = nil
	}
	return jobs, nil
}
