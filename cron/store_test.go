package cron

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreEmptyPathFallsBackToDataDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	job := &Job{
		ID:       "job-1",
		Name:     "daily",
		Schedule: Schedule{Type: ScheduleTypeCron, CronExpression: "0 8 * * *"},
		Payload:  Payload{Type: PayloadTypeAgent, Message: "morning report"},
		State:    JobState{Enabled: true},
	}
	if err := store.SaveJobs([]*Job{job}); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	wantPath := filepath.Join(home, ".clawgate", "cron", "jobs.json")
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("jobs file not at default path: %v", err)
	}

	loaded, err := store.LoadJobs()
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "job-1" {
		t.Fatalf("unexpected jobs after reload: %+v", loaded)
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	now := time.Now()
	jobs := []*Job{
		{
			ID:       "a",
			Name:     "first",
			Schedule: Schedule{Type: ScheduleTypeEvery, EveryDuration: time.Hour},
			Payload:  Payload{Type: PayloadTypeAgent, Message: "hi"},
			State:    JobState{Enabled: true, RunningAt: &now},
		},
	}
	if err := store.SaveJobs(jobs); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	loaded, err := store.LoadJobs()
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Name != "first" {
		t.Fatalf("unexpected jobs: %+v", loaded)
	}
	if loaded[0].State.RunningAt != nil {
		t.Error("RunningAt should be cleared on load")
	}
}

func TestRunStoreEmptyPathFallsBackToDataDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	runs, err := NewRunStore("")
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}

	rec := &RunRecord{
		RunID:      "run-1",
		JobID:      "job-1",
		JobName:    "daily",
		Status:     "ok",
		StartedAt:  time.Now().Add(-time.Second),
		FinishedAt: time.Now(),
		DurationMs: 1000,
	}
	if err := runs.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	wantPath := filepath.Join(home, ".clawgate", "cron", "runs.db")
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("run log not at default path: %v", err)
	}

	got, err := runs.Recent("job-1", 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].RunID != "run-1" {
		t.Fatalf("unexpected records: %+v", got)
	}
}
