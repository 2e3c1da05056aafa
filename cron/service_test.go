package cron

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/clawgate/agent"
)

type fakeRunner struct {
	mu       sync.Mutex
	messages []string
	result   *agent.Result
	err      error
	block    chan struct{}
}

func (f *fakeRunner) RunSync(ctx context.Context, sessionKey, message string, timeout time.Duration) (*agent.Result, error) {
	f.mu.Lock()
	f.messages = append(f.messages, message)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	channel string
	target  string
	text    string
}

func (f *fakeNotifier) Send(_ context.Context, channel, target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel, f.target, f.text = channel, target, text
	return nil
}

func newTestService(t *testing.T, runner AgentRunner, notifier Notifier) *Service {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "jobs.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runs, err := NewRunStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("new run store: %v", err)
	}
	exec := NewExecutor(runner, notifier, runs, time.Minute)
	svc, err := NewService(store, runs, exec)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func agentJob(message string) *Job {
	return &Job{
		Name:     "test-job",
		Schedule: Schedule{Type: ScheduleTypeEvery, EveryDuration: time.Hour},
		Payload:  Payload{Type: PayloadTypeAgent, Message: message},
	}
}

func TestAddValidatesJob(t *testing.T) {
	svc := newTestService(t, &fakeRunner{result: &agent.Result{Text: "ok"}}, nil)

	bad := &Job{
		Schedule: Schedule{Type: ScheduleTypeCron, CronExpression: "not valid"},
		Payload:  Payload{Type: PayloadTypeAgent, Message: "hi"},
	}
	if _, err := svc.Add(bad); err == nil {
		t.Fatal("expected validation error")
	}

	good, err := svc.Add(agentJob("hello"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if good.ID == "" || !good.State.Enabled || good.State.NextRunAt == nil {
		t.Fatalf("job not initialized: %+v", good)
	}
}

func TestJobsSurviveReload(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "jobs.json")

	store, _ := NewStore(storePath)
	exec := NewExecutor(&fakeRunner{result: &agent.Result{Text: "ok"}}, nil, nil, time.Minute)
	svc, err := NewService(store, nil, exec)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	added, err := svc.Add(agentJob("persisted"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	store2, _ := NewStore(storePath)
	svc2, err := NewService(store2, nil, exec)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := svc2.Get(added.ID)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if got.Payload.Message != "persisted" {
		t.Fatalf("payload = %q", got.Payload.Message)
	}
}

func TestRunNowExecutesAgentPayload(t *testing.T) {
	runner := &fakeRunner{result: &agent.Result{Text: "the answer"}}
	svc := newTestService(t, runner, nil)

	job, err := svc.Add(agentJob("what is the answer"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.RunNow(job.ID); err != nil {
		t.Fatalf("run now: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := svc.Get(job.ID)
		if got != nil && got.State.RunCount == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, _ := svc.Get(job.ID)
	if got.State.LastStatus != StatusOK {
		t.Fatalf("status = %q, err = %q", got.State.LastStatus, got.State.LastError)
	}

	runs, err := svc.RecentRuns(job.ID, 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Output != "the answer" {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestRunNowRejectsConcurrentRun(t *testing.T) {
	runner := &fakeRunner{result: &agent.Result{Text: "ok"}, block: make(chan struct{})}
	svc := newTestService(t, runner, nil)

	job, err := svc.Add(agentJob("slow"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.RunNow(job.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := svc.Get(job.ID)
		if got != nil && got.IsRunning() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never entered running state")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := svc.RunNow(job.ID); err == nil {
		t.Fatal("expected concurrent run rejection")
	}
	close(runner.block)
}

func TestNotifyPayloadDelivers(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := newTestService(t, nil, notifier)

	job, err := svc.Add(&Job{
		Name:     "reminder",
		Schedule: Schedule{Type: ScheduleTypeEvery, EveryDuration: time.Hour},
		Payload: Payload{
			Type:    PayloadTypeNotify,
			Message: "standup in 5",
			Channel: "telegram",
			Target:  "12345",
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.RunNow(job.ID); err != nil {
		t.Fatalf("run now: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		notifier.mu.Lock()
		text := notifier.text
		notifier.mu.Unlock()
		if text == "standup in 5" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("notification never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebhookDelivery(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekret" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]interface{}
		_ = jsonDecode(r, &body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runner := &fakeRunner{result: &agent.Result{Text: "report done"}}
	svc := newTestService(t, runner, nil)

	job := agentJob("write a report")
	job.Delivery = &Delivery{
		Mode:         DeliveryModeWebhook,
		WebhookURL:   srv.URL,
		WebhookToken: "sekret",
	}
	added, err := svc.Add(job)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.RunNow(added.ID); err != nil {
		t.Fatalf("run now: %v", err)
	}

	select {
	case body := <-received:
		if body["status"] != StatusOK || body["output"] != "report done" {
			t.Fatalf("webhook body = %v", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never called")
	}
}

func TestSetEnabledTogglesScheduling(t *testing.T) {
	svc := newTestService(t, &fakeRunner{result: &agent.Result{Text: "ok"}}, nil)
	job, err := svc.Add(agentJob("toggle me"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := svc.SetEnabled(job.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ := svc.Get(job.ID)
	if got.State.Enabled || got.State.NextRunAt != nil {
		t.Fatalf("disable did not clear schedule: %+v", got.State)
	}

	if err := svc.SetEnabled(job.ID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	got, _ = svc.Get(job.ID)
	if !got.State.Enabled || got.State.NextRunAt == nil {
		t.Fatalf("enable did not reschedule: %+v", got.State)
	}
}

func TestUpdateRevalidatesAndReschedules(t *testing.T) {
	svc := newTestService(t, &fakeRunner{result: &agent.Result{Text: "ok"}}, nil)
	job, err := svc.Add(agentJob("original"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	updated, err := svc.Update(job.ID, func(j *Job) error {
		j.Payload.Message = "changed"
		j.Schedule = Schedule{Type: ScheduleTypeCron, CronExpression: "0 8 * * *"}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Payload.Message != "changed" {
		t.Fatalf("message = %q", updated.Payload.Message)
	}
	if updated.State.NextRunAt == nil {
		t.Fatal("update did not reschedule")
	}

	// An invalid mutation must leave the stored job untouched.
	_, err = svc.Update(job.ID, func(j *Job) error {
		j.Schedule = Schedule{Type: ScheduleTypeCron, CronExpression: "not a cron"}
		return nil
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	got, _ := svc.Get(job.ID)
	if got.Payload.Message != "changed" {
		t.Fatalf("failed update mutated stored job: %q", got.Payload.Message)
	}
}

func jsonDecode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
