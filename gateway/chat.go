package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallnest/clawgate/agent"
	"github.com/smallnest/clawgate/errors"
	"github.com/smallnest/clawgate/internal/logger"
	"github.com/smallnest/clawgate/queue"
	"github.com/smallnest/clawgate/session"
)

// EventSink receives the streaming events of one run. A nil sink is a
// headless run whose events are dropped.
type EventSink interface {
	PushEvent(name string, payload interface{}) error
	Closed() bool
}

// chatJob is the queue payload of one chat run.
type chatJob struct {
	runID      string
	sessionKey string
	message    string
	timeout    time.Duration
	sink       EventSink
	done       chan runOutcome // non-nil for synchronous callers
}

type runOutcome struct {
	result *agent.Result
	err    error
}

// ChatService submits chat runs through the lane queue and turns runner
// progress into chat event frames. One lane per session key, so runs on
// the same conversation never overlap.
type ChatService struct {
	runner   *agent.Runner
	sessions *session.Directory
	queue    *queue.Manager

	mu   sync.Mutex
	runs map[string]string // runID -> laneID, in-flight only
}

// NewChatService wires the chat pipeline. The returned service owns the
// queue's dispatch side; callers share the queue for status inspection
// only.
func NewChatService(runner *agent.Runner, sessions *session.Directory, maxPending int) *ChatService {
	s := &ChatService{
		runner:   runner,
		sessions: sessions,
		runs:     make(map[string]string),
	}
	s.queue = queue.NewManager(maxPending, s.execute)
	return s
}

// Queue exposes the lane queue for status methods.
func (s *ChatService) Queue() *queue.Manager {
	return s.queue
}

// SendRequest are the parameters of one chat.send call.
type SendRequest struct {
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
	TimeoutMs  int64  `json:"timeoutMs,omitempty"`
	// CancelCurrent displaces the lane's in-flight run before this one.
	CancelCurrent bool `json:"cancelCurrent,omitempty"`
}

// Submit enqueues a run and returns its id. QueueFull is reported
// synchronously; everything later arrives as chat events on the sink.
func (s *ChatService) Submit(req SendRequest, sink EventSink) (string, error) {
	if req.SessionKey == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "sessionKey is required")
	}
	if req.Message == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "message is required")
	}

	job := &chatJob{
		runID:      uuid.NewString(),
		sessionKey: req.SessionKey,
		message:    req.Message,
		timeout:    time.Duration(req.TimeoutMs) * time.Millisecond,
		sink:       sink,
	}

	res := s.queue.Enqueue(req.SessionKey, job, queue.EnqueueOptions{CancelCurrent: req.CancelCurrent})
	if res.QueueFull {
		return "", errors.QueueFull(req.SessionKey)
	}

	logger.Info("Chat run enqueued",
		zap.String("run", job.runID),
		zap.String("lane", req.SessionKey),
		zap.Int("position", res.Position))
	return job.runID, nil
}

// RunSync enqueues a run and blocks until its terminal state, returning
// the final text. Used by the scheduler and the send pipeline, which
// have no streaming connection.
func (s *ChatService) RunSync(ctx context.Context, sessionKey, message string, timeout time.Duration) (*agent.Result, error) {
	if sessionKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "sessionKey is required")
	}
	job := &chatJob{
		runID:      uuid.NewString(),
		sessionKey: sessionKey,
		message:    message,
		timeout:    timeout,
		done:       make(chan runOutcome, 1),
	}

	res := s.queue.Enqueue(sessionKey, job, queue.EnqueueOptions{})
	if res.QueueFull {
		return nil, errors.QueueFull(sessionKey)
	}

	select {
	case out := <-job.done:
		return out.result, out.err
	case <-ctx.Done():
		s.queue.CancelCurrent(sessionKey)
		return nil, errors.Cancelled("chat run")
	}
}

// Abort cancels the in-flight run on a session's lane, if any. The
// displaced run emits its own aborted terminal event.
func (s *ChatService) Abort(sessionKey string) bool {
	return s.queue.CancelCurrent(sessionKey)
}

// ActiveRun reports the in-flight run id for a lane, if any.
func (s *ChatService) ActiveRun(sessionKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for runID, lane := range s.runs {
		if lane == sessionKey {
			return runID, true
		}
	}
	return "", false
}

// execute is the queue dispatch callback: it owns one run from start to
// its terminal event, then pumps the lane.
func (s *ChatService) execute(ctx context.Context, item queue.Item) {
	job, ok := item.Payload.(*chatJob)
	if !ok {
		logger.Error("Unexpected queue payload", zap.String("lane", item.LaneID))
		s.queue.CompleteCurrent(item.LaneID)
		return
	}

	s.mu.Lock()
	s.runs[job.runID] = job.sessionKey
	s.mu.Unlock()

	seq := 0

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Chat run panicked",
				zap.String("run", job.runID),
				zap.Any("panic", r))
			// Terminal seq must stay above any delta already sent.
			s.emitTerminal(job, seq+1, StateError, nil, "internal error")
		}
		s.mu.Lock()
		delete(s.runs, job.runID)
		s.mu.Unlock()
		s.queue.CompleteCurrent(item.LaneID)
	}()

	spec := agent.RunSpec{
		Message: job.message,
		Timeout: job.timeout,
	}
	if token, ok := s.sessions.Get(job.sessionKey); ok {
		spec.SessionID = token
	}

	onDelta := func(delta, _ string) {
		if job.sink == nil || job.sink.Closed() {
			return
		}
		seq++
		s.push(job, ChatEvent{
			RunID:      job.runID,
			SessionKey: job.sessionKey,
			Seq:        seq,
			State:      StateDelta,
			Message:    delta,
		})
	}

	logger.Debug("Chat run starting",
		zap.String("run", job.runID),
		zap.String("lane", job.sessionKey),
		zap.Bool("resume", spec.SessionID != ""))

	result, err := s.runner.RunStreaming(ctx, spec, onDelta)

	switch {
	case err == nil:
		// The token is stored before the final event so a follow-up send
		// on this key resumes instead of starting fresh.
		if result.SessionID != "" {
			s.sessions.Set(job.sessionKey, result.SessionID)
		}
		s.emitTerminal(job, seq+1, StateFinal, result, "")
	case errors.Is(err, errors.ErrCodeCancelled):
		s.emitTerminal(job, seq+1, StateAborted, nil, "")
	default:
		logger.Warn("Chat run failed",
			zap.String("run", job.runID),
			zap.String("lane", job.sessionKey),
			zap.Error(err))
		s.emitTerminal(job, seq+1, StateError, nil, errors.GetUserMessage(err))
	}

	if job.done != nil {
		job.done <- runOutcome{result: result, err: err}
	}
}

// emitTerminal sends the run's single terminal event.
func (s *ChatService) emitTerminal(job *chatJob, seq int, state string, result *agent.Result, errMsg string) {
	ev := ChatEvent{
		RunID:      job.runID,
		SessionKey: job.sessionKey,
		Seq:        seq,
		State:      state,
	}
	if result != nil {
		ev.Message = result.Text
	}
	if errMsg != "" {
		ev.ErrorMessage = errMsg
	}
	s.push(job, ev)
}

func (s *ChatService) push(job *chatJob, ev ChatEvent) {
	if job.sink == nil || job.sink.Closed() {
		return
	}
	if err := job.sink.PushEvent("chat", ev); err != nil {
		logger.Debug("Event dropped",
			zap.String("run", job.runID),
			zap.Error(err))
	}
}
