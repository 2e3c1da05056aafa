package cron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallnest/clawgate/agent"
	"github.com/smallnest/clawgate/internal/logger"
)

// AgentRunner runs one message through the chat pipeline and blocks for
// the final text. Satisfied by the gateway's chat service.
type AgentRunner interface {
	RunSync(ctx context.Context, sessionKey, message string, timeout time.Duration) (*agent.Result, error)
}

// Notifier delivers text to a channel destination. Satisfied by the
// channels manager.
type Notifier interface {
	Send(ctx context.Context, channel, target, text string) error
}

// Executor performs one job run and records it.
type Executor struct {
	runner   AgentRunner
	notifier Notifier
	runs     *RunStore
	timeout  time.Duration
	httpc    *http.Client
}

// NewExecutor creates an executor. notifier and runs may be nil when the
// corresponding facility is unavailable.
func NewExecutor(runner AgentRunner, notifier Notifier, runs *RunStore, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Executor{
		runner:   runner,
		notifier: notifier,
		runs:     runs,
		timeout:  timeout,
		httpc:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Execute runs one job to completion and appends its run record.
func (e *Executor) Execute(ctx context.Context, job *Job) error {
	started := time.Now()
	rec := &RunRecord{
		RunID:     uuid.NewString(),
		JobID:     job.ID,
		JobName:   job.Name,
		StartedAt: started,
	}

	logger.Info("Executing cron job",
		zap.String("job", job.ID),
		zap.String("run", rec.RunID),
		zap.String("payload", string(job.Payload.Type)))

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var output string
	var runErr error

	switch job.Payload.Type {
	case PayloadTypeAgent:
		output, runErr = e.runAgent(runCtx, job)
	case PayloadTypeNotify:
		runErr = e.runNotify(runCtx, job)
		output = job.Payload.Message
	default:
		runErr = fmt.Errorf("unknown payload type: %s", job.Payload.Type)
	}

	rec.FinishedAt = time.Now()
	rec.DurationMs = rec.FinishedAt.Sub(started).Milliseconds()
	rec.Output = output
	if runErr != nil {
		rec.Status = StatusError
		rec.Error = runErr.Error()
	} else {
		rec.Status = StatusOK
	}

	if e.runs != nil {
		if err := e.runs.Append(rec); err != nil {
			logger.Error("Failed to record run",
				zap.String("job", job.ID),
				zap.Error(err))
		}
	}

	if runErr == nil && job.Payload.Type == PayloadTypeAgent {
		if err := e.deliver(runCtx, job, rec); err != nil {
			if job.Delivery != nil && !job.Delivery.BestEffort {
				return fmt.Errorf("delivery failed: %w", err)
			}
			logger.Warn("Job delivery failed",
				zap.String("job", job.ID),
				zap.Error(err))
		}
	}

	logger.Info("Cron job finished",
		zap.String("job", job.ID),
		zap.String("run", rec.RunID),
		zap.String("status", rec.Status),
		zap.Int64("duration_ms", rec.DurationMs))

	return runErr
}

func (e *Executor) runAgent(ctx context.Context, job *Job) (string, error) {
	if e.runner == nil {
		return "", fmt.Errorf("agent runner is not available")
	}
	result, err := e.runner.RunSync(ctx, job.LaneKey(), job.Payload.Message, e.timeout)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", fmt.Errorf("agent run produced no result")
	}
	return result.Text, nil
}

func (e *Executor) runNotify(ctx context.Context, job *Job) error {
	if e.notifier == nil {
		return fmt.Errorf("no notification channels available")
	}
	return e.notifier.Send(ctx, job.Payload.Channel, job.Payload.Target, job.Payload.Message)
}

// deliver forwards an agent job's output per the job's delivery mode.
func (e *Executor) deliver(ctx context.Context, job *Job, rec *RunRecord) error {
	if job.Delivery == nil || job.Delivery.Mode == DeliveryModeNone || job.Delivery.Mode == "" {
		return nil
	}

	switch job.Delivery.Mode {
	case DeliveryModeChannel:
		if e.notifier == nil {
			return fmt.Errorf("no notification channels available")
		}
		text := rec.Output
		if text == "" {
			text = fmt.Sprintf("Job %q completed", job.Name)
		}
		return e.notifier.Send(ctx, job.Payload.Channel, job.Payload.Target, text)
	case DeliveryModeWebhook:
		return e.deliverWebhook(ctx, job, rec)
	default:
		return fmt.Errorf("unknown delivery mode: %s", job.Delivery.Mode)
	}
}

func (e *Executor) deliverWebhook(ctx context.Context, job *Job, rec *RunRecord) error {
	body, err := json.Marshal(map[string]interface{}{
		"jobId":      job.ID,
		"jobName":    job.Name,
		"runId":      rec.RunID,
		"status":     rec.Status,
		"output":     rec.Output,
		"error":      rec.Error,
		"durationMs": rec.DurationMs,
		"finishedAt": rec.FinishedAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Delivery.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if job.Delivery.WebhookToken != "" {
		req.Header.Set("Authorization", "Bearer "+job.Delivery.WebhookToken)
	}

	res, err := e.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", res.StatusCode)
	}
	return nil
}
