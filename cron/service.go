package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallnest/clawgate/errors"
	"github.com/smallnest/clawgate/internal/logger"
)

// Service owns the job table and the timer loop.
type Service struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	store    *Store
	runs     *RunStore
	executor *Executor

	running  bool
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewService loads persisted jobs and prepares the scheduler. runs may
// be nil when run history is disabled.
func NewService(store *Store, runs *RunStore, executor *Executor) (*Service, error) {
	s := &Service{
		jobs:     make(map[string]*Job),
		store:    store,
		runs:     runs,
		executor: executor,
		stop:     make(chan struct{}),
	}

	jobs, err := store.LoadJobs()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s, nil
}

// Start launches the timer loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	enabled := s.countEnabledLocked()
	total := len(s.jobs)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.timerLoop(ctx)

	logger.Info("Cron service started",
		zap.Int("jobs", total),
		zap.Int("enabled", enabled))
}

// Stop halts the timer loop and persists job state.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		logger.Error("Failed to persist jobs on stop", zap.Error(err))
	}
	logger.Info("Cron service stopped")
}

func (s *Service) timerLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

// fireDue starts every due job on its own goroutine so a long agent run
// never delays other jobs.
func (s *Service) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if job.ShouldRun(now) {
			job.MarkRunning(now)
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.wg.Add(1)
		go func(j *Job) {
			defer s.wg.Done()
			s.runJob(ctx, j)
		}(job)
	}
}

// runJob executes one job and updates its scheduling state.
func (s *Service) runJob(ctx context.Context, job *Job) {
	err := s.executor.Execute(ctx, job)

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		job.MarkCompleted(now, StatusError, err.Error())
	} else {
		job.MarkCompleted(now, StatusOK, "")
	}

	if _, err := job.CalculateNextRun(now); err != nil {
		logger.Error("Failed to schedule next run",
			zap.String("job", job.ID),
			zap.Error(err))
	}

	if job.IsOneShot() {
		job.State.Enabled = false
		job.State.NextRunAt = nil
	} else if job.State.ConsecutiveErrors > 0 {
		until := now.Add(backoffDelay(job.State.ConsecutiveErrors))
		job.State.ErrorBackoffUntil = &until
		if job.State.NextRunAt != nil && job.State.NextRunAt.Before(until) {
			job.State.NextRunAt = &until
		}
	}

	if err := s.persistLocked(); err != nil {
		logger.Error("Failed to persist job state", zap.Error(err))
	}
}

// Add registers a new job. A missing id, name, or enabled flag gets a
// sensible default; the job starts enabled.
func (s *Service) Add(job *Job) (*Job, error) {
	if job.ID == "" {
		job.ID = "job-" + uuid.NewString()[:8]
	}
	if job.Name == "" {
		job.Name = job.ID
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return nil, errors.AlreadyExists("job " + job.ID)
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.State = JobState{Enabled: true}
	if _, err := job.CalculateNextRun(now); err != nil {
		return nil, err
	}

	s.jobs[job.ID] = job
	if err := s.persistLocked(); err != nil {
		delete(s.jobs, job.ID)
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	logger.Info("Cron job added",
		zap.String("job", job.ID),
		zap.String("name", job.Name),
		zap.String("schedule", string(job.Schedule.Type)))
	return job, nil
}

// Remove deletes a job and its run history.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return errors.NotFound("job " + id)
	}
	delete(s.jobs, id)
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("failed to persist jobs: %w", err)
	}

	if s.runs != nil {
		_ = s.runs.DeleteJobRuns(id)
	}
	logger.Info("Cron job removed", zap.String("job", id))
	return nil
}

// SetEnabled toggles a job. Enabling recomputes the next run time;
// disabling clears it.
func (s *Service) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return errors.NotFound("job " + id)
	}

	job.State.Enabled = enabled
	job.UpdatedAt = time.Now()
	if enabled {
		job.State.ConsecutiveErrors = 0
		job.State.ErrorBackoffUntil = nil
		if _, err := job.CalculateNextRun(time.Now()); err != nil {
			return err
		}
	} else {
		job.State.NextRunAt = nil
	}
	return s.persistLocked()
}

// Update applies a mutation to a job under the lock, revalidates it,
// and reschedules. The mutation sees a copy, so a failed validation
// leaves the stored job untouched.
func (s *Service) Update(id string, mutate func(job *Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, errors.NotFound("job " + id)
	}

	updated := *job
	if err := mutate(&updated); err != nil {
		return nil, err
	}
	updated.ID = job.ID
	updated.CreatedAt = job.CreatedAt
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	updated.UpdatedAt = now
	if updated.State.Enabled {
		if _, err := updated.CalculateNextRun(now); err != nil {
			return nil, err
		}
	} else {
		updated.State.NextRunAt = nil
	}

	s.jobs[id] = &updated
	if err := s.persistLocked(); err != nil {
		s.jobs[id] = job
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	logger.Info("Cron job updated", zap.String("job", id))
	return &updated, nil
}

// Get returns one job.
func (s *Service) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, errors.NotFound("job " + id)
	}
	return job, nil
}

// List returns all jobs sorted by creation time.
func (s *Service) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// RunNow fires a job immediately, bypassing its schedule. A run already
// in flight is rejected.
func (s *Service) RunNow(id string) error {
	s.mu.Lock()
	job, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return errors.NotFound("job " + id)
	}
	if job.IsRunning() {
		s.mu.Unlock()
		return errors.Newf(errors.ErrCodeAlreadyExists, "job %s is already running", id)
	}
	job.MarkRunning(time.Now())
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(context.Background(), job)
	}()
	return nil
}

// RecentRuns returns run history, newest first.
func (s *Service) RecentRuns(jobID string, limit int) ([]RunRecord, error) {
	if s.runs == nil {
		return []RunRecord{}, nil
	}
	return s.runs.Recent(jobID, limit)
}

// Status summarizes the scheduler for the status method.
func (s *Service) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	running := 0
	for _, job := range s.jobs {
		if job.IsRunning() {
			running++
		}
	}
	return map[string]interface{}{
		"running":     s.running,
		"totalJobs":   len(s.jobs),
		"enabledJobs": s.countEnabledLocked(),
		"runningJobs": running,
	}
}

func (s *Service) countEnabledLocked() int {
	n := 0
	for _, job := range s.jobs {
		if job.State.Enabled {
			n++
		}
	}
	return n
}

func (s *Service) persistLocked() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return s.store.SaveJobs(jobs)
}
