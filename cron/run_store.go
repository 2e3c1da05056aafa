package cron

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallnest/clawgate/config"
)

// RunRecord is one persisted job run.
type RunRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RunID      string    `gorm:"size:64;uniqueIndex" json:"run_id"`
	JobID      string    `gorm:"size:64;index" json:"job_id"`
	JobName    string    `gorm:"size:255" json:"job_name"`
	Status     string    `gorm:"size:16" json:"status"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

// TableName keeps the table name stable across gorm versions.
func (RunRecord) TableName() string { return "cron_runs" }

// RunStore persists run history in SQLite.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore opens (or creates) the run-log database. An empty path
// falls back to cron/runs.db under the data directory.
func NewRunStore(path string) (*RunStore, error) {
	if path == "" {
		dataDir, err := config.DataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default run log path: %w", err)
		}
		path = filepath.Join(dataDir, "cron", "runs.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run log directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open run log database: %w", err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate run log schema: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Append records one finished run.
func (s *RunStore) Append(rec *RunRecord) error {
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to append run record: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first. An empty jobID matches
// every job; limit <= 0 defaults to 20.
func (s *RunStore) Recent(jobID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.Order("started_at DESC").Limit(limit)
	if jobID != "" {
		q = q.Where("job_id = ?", jobID)
	}

	var runs []RunRecord
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to query run records: %w", err)
	}
	return runs, nil
}

// DeleteJobRuns drops the history of one job.
func (s *RunStore) DeleteJobRuns(jobID string) error {
	return s.db.Where("job_id = ?", jobID).Delete(&RunRecord{}).Error
}

// Prune removes records older than the retention window.
func (s *RunStore) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.Where("started_at < ?", cutoff).Delete(&RunRecord{})
	return res.RowsAffected, res.Error
}
