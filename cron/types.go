package cron

import (
	"time"

	"github.com/smallnest/clawgate/errors"
)

// ScheduleType selects how a job's run times are computed.
type ScheduleType string

const (
	ScheduleTypeAt    ScheduleType = "at"    // one-shot at a fixed time
	ScheduleTypeEvery ScheduleType = "every" // fixed interval
	ScheduleTypeCron  ScheduleType = "cron"  // cron expression
)

// Schedule defines when a job runs.
type Schedule struct {
	Type ScheduleType `json:"type"`

	At             time.Time     `json:"at,omitempty"`
	EveryDuration  time.Duration `json:"every_duration,omitempty"`
	CronExpression string        `json:"cron_expression,omitempty"`
}

// PayloadType selects what a job does when it fires.
type PayloadType string

const (
	// PayloadTypeAgent sends the message through the chat pipeline on the
	// job's own lane and captures the agent's reply.
	PayloadTypeAgent PayloadType = "agent"
	// PayloadTypeNotify delivers the message text to a channel directly.
	PayloadTypeNotify PayloadType = "notify"
)

// Payload defines the work one job performs.
type Payload struct {
	Type    PayloadType `json:"type"`
	Message string      `json:"message"`

	// SessionKey overrides the lane for agent payloads; empty means a
	// dedicated per-job lane.
	SessionKey string `json:"session_key,omitempty"`

	// Channel/Target address notify payloads and agent result delivery.
	Channel string `json:"channel,omitempty"`
	Target  string `json:"target,omitempty"`
}

// DeliveryMode defines where agent job output goes.
type DeliveryMode string

const (
	DeliveryModeNone    DeliveryMode = "none"
	DeliveryModeChannel DeliveryMode = "channel" // send through a notifier
	DeliveryModeWebhook DeliveryMode = "webhook" // HTTP POST to a URL
)

// Delivery configures result delivery for agent jobs.
type Delivery struct {
	Mode         DeliveryMode `json:"mode"`
	WebhookURL   string       `json:"webhook_url,omitempty"`
	WebhookToken string       `json:"webhook_token,omitempty"`
	// BestEffort keeps a delivery failure from failing the job itself.
	BestEffort bool `json:"best_effort,omitempty"`
}

// Run statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// JobState is the mutable scheduling state of a job.
type JobState struct {
	Enabled           bool       `json:"enabled"`
	RunningAt         *time.Time `json:"running_at,omitempty"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	NextRunAt         *time.Time `json:"next_run_at,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	RunCount          int        `json:"run_count"`
	ErrorBackoffUntil *time.Time `json:"error_backoff_until,omitempty"`
	LastStatus        string     `json:"last_status,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

// Job is one scheduled unit of work.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Schedule  Schedule  `json:"schedule"`
	Payload   Payload   `json:"payload"`
	Delivery  *Delivery `json:"delivery,omitempty"`
	State     JobState  `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the job definition before it is accepted.
func (j *Job) Validate() error {
	switch j.Schedule.Type {
	case ScheduleTypeAt:
		if j.Schedule.At.IsZero() {
			return errors.New(errors.ErrCodeInvalidInput, "at schedule requires a time")
		}
	case ScheduleTypeEvery:
		if j.Schedule.EveryDuration <= 0 {
			return errors.New(errors.ErrCodeInvalidInput, "every schedule requires a positive duration")
		}
	case ScheduleTypeCron:
		if j.Schedule.CronExpression == "" {
			return errors.New(errors.ErrCodeInvalidInput, "cron schedule requires an expression")
		}
		if _, err := nextCronTime(j.Schedule.CronExpression, time.Now()); err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid cron expression")
		}
	default:
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown schedule type: %s", j.Schedule.Type)
	}

	switch j.Payload.Type {
	case PayloadTypeAgent:
		if j.Payload.Message == "" {
			return errors.New(errors.ErrCodeInvalidInput, "agent payload requires a message")
		}
	case PayloadTypeNotify:
		if j.Payload.Message == "" {
			return errors.New(errors.ErrCodeInvalidInput, "notify payload requires a message")
		}
		if j.Payload.Channel == "" {
			return errors.New(errors.ErrCodeInvalidInput, "notify payload requires a channel")
		}
	default:
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown payload type: %s", j.Payload.Type)
	}

	if j.Delivery != nil && j.Delivery.Mode == DeliveryModeWebhook && j.Delivery.WebhookURL == "" {
		return errors.New(errors.ErrCodeInvalidInput, "webhook delivery requires a url")
	}
	return nil
}

// LaneKey is the lane agent payloads run on. Each job gets its own lane
// unless the payload pins a session key.
func (j *Job) LaneKey() string {
	if j.Payload.SessionKey != "" {
		return j.Payload.SessionKey
	}
	return "cron:" + j.ID
}

// IsRunning reports whether a run is in flight.
func (j *Job) IsRunning() bool {
	return j.State.RunningAt != nil
}

// IsOneShot reports whether the job disables itself after one run.
func (j *Job) IsOneShot() bool {
	return j.Schedule.Type == ScheduleTypeAt
}

// ShouldRun reports whether the job is due at now.
func (j *Job) ShouldRun(now time.Time) bool {
	if !j.State.Enabled || j.IsRunning() {
		return false
	}
	if j.State.ErrorBackoffUntil != nil && now.Before(*j.State.ErrorBackoffUntil) {
		return false
	}
	return j.State.NextRunAt != nil && now.After(*j.State.NextRunAt)
}

// MarkRunning records the start of a run.
func (j *Job) MarkRunning(now time.Time) {
	j.State.RunningAt = &now
	j.State.LastRunAt = &now
}

// MarkCompleted records the end of a run.
func (j *Job) MarkCompleted(now time.Time, status, errMsg string) {
	j.State.RunningAt = nil
	j.State.LastStatus = status
	j.State.LastError = errMsg
	j.State.RunCount++

	if status == StatusOK {
		j.State.ConsecutiveErrors = 0
		j.State.ErrorBackoffUntil = nil
	} else {
		j.State.ConsecutiveErrors++
	}
	j.UpdatedAt = now
}

// CalculateNextRun computes and stores the next run time.
func (j *Job) CalculateNextRun(from time.Time) (time.Time, error) {
	var next time.Time
	var err error

	switch j.Schedule.Type {
	case ScheduleTypeAt:
		// One-shot: runs once at the fixed time, then never again.
		if from.Before(j.Schedule.At) {
			next = j.Schedule.At
		}
	case ScheduleTypeEvery:
		if j.Schedule.EveryDuration <= 0 {
			return time.Time{}, errors.New(errors.ErrCodeInvalidInput, "every schedule requires a positive duration")
		}
		next = from.Add(j.Schedule.EveryDuration)
	case ScheduleTypeCron:
		if j.Schedule.CronExpression == "" {
			return time.Time{}, errors.New(errors.ErrCodeInvalidInput, "cron schedule requires an expression")
		}
		next, err = nextCronTime(j.Schedule.CronExpression, from)
		if err != nil {
			return time.Time{}, err
		}
	default:
		return time.Time{}, errors.Newf(errors.ErrCodeInvalidInput, "unknown schedule type: %s", j.Schedule.Type)
	}

	if next.IsZero() {
		j.State.NextRunAt = nil
	} else {
		j.State.NextRunAt = &next
	}
	return next, nil
}

// backoffDelay returns the exponential backoff for consecutive failures.
// Sequence: 30s, 1m, 5m, 15m, 60m capped.
func backoffDelay(consecutiveErrors int) time.Duration {
	backoffs := []time.Duration{
		30 * time.Second,
		time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		60 * time.Minute,
	}
	if consecutiveErrors <= 0 {
		return 0
	}
	idx := consecutiveErrors - 1
	if idx >= len(backoffs) {
		idx = len(backoffs) - 1
	}
	return backoffs[idx]
}
