//go:build !windows

package agent

import (
	"context"
	goerrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/clawgate/errors"
)

// shellProvider runs a fixed shell script so tests control the process
// behavior without a real agent binary.
type shellProvider struct {
	script string
}

func (p *shellProvider) Name() string                { return "shell" }
func (p *shellProvider) DefaultBinary() string       { return "/bin/sh" }
func (p *shellProvider) EnvOverride() string         { return "CLAWGATE_SHELL_BIN" }
func (p *shellProvider) InstallCandidates() []string { return nil }
func (p *shellProvider) BuildArgs(spec RunSpec) []string {
	return []string{"-c", p.script}
}

func shellRunner(script string, opts ...RunnerOption) *Runner {
	opts = append([]RunnerOption{WithBinary("/bin/sh")}, opts...)
	return NewRunner(&shellProvider{script: script}, opts...)
}

func TestRunParsesJSONLOutput(t *testing.T) {
	script := `printf '{"type":"assistant","message":{"content":[{"type":"text","text":"hi there"}]},"session_id":"s-1"}\n'`
	r := shellRunner(script)

	res, err := r.Run(context.Background(), RunSpec{Message: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "hi there" {
		t.Fatalf("Text = %q", res.Text)
	}
	if res.SessionID != "s-1" {
		t.Fatalf("SessionID = %q", res.SessionID)
	}
}

func TestRunTimeout(t *testing.T) {
	r := shellRunner("sleep 10", WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := r.Run(context.Background(), RunSpec{Message: "x"})
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Fatalf("expected timeout failure, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("process was not killed on timeout")
	}
}

func TestRunCancelled(t *testing.T) {
	r := shellRunner("sleep 10")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Run(ctx, RunSpec{Message: "x"})
	if !errors.Is(err, errors.ErrCodeCancelled) {
		t.Fatalf("expected cancelled failure, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("process was not killed on cancellation")
	}
}

func TestRunNonZeroExitKeepsDiagnostics(t *testing.T) {
	r := shellRunner(`echo "boom: credentials missing" >&2; exit 3`)

	_, err := r.Run(context.Background(), RunSpec{Message: "x"})
	if !errors.Is(err, errors.ErrCodeNonZeroExit) {
		t.Fatalf("expected non-zero exit failure, got %v", err)
	}
	var appErr *errors.AppError
	if !goerrors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	diag, _ := appErr.Context["diagnostics"].(string)
	if !strings.Contains(diag, "credentials missing") {
		t.Fatalf("diagnostics missing stderr tail: %q", diag)
	}
}

func TestRunNonZeroExitWithParseableOutputSucceeds(t *testing.T) {
	script := `printf '{"type":"assistant","message":{"content":[{"type":"text","text":"partial answer"}]}}\n'; exit 1`
	r := shellRunner(script)

	res, err := r.Run(context.Background(), RunSpec{Message: "x"})
	if err != nil {
		t.Fatalf("expected parsed output to win over exit code, got %v", err)
	}
	if res.Text != "partial answer" {
		t.Fatalf("Text = %q", res.Text)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	r := NewRunner(&shellProvider{script: "true"}, WithBinary("/nonexistent/claude-bin"))

	_, err := r.Run(context.Background(), RunSpec{Message: "x"})
	if !errors.Is(err, errors.ErrCodeSpawnFailure) {
		t.Fatalf("expected spawn failure, got %v", err)
	}
}

func TestRunEmptyOutputIsParseFailure(t *testing.T) {
	r := shellRunner("true")

	_, err := r.Run(context.Background(), RunSpec{Message: "x"})
	if !errors.Is(err, errors.ErrCodeParseFailure) {
		t.Fatalf("expected parse failure, got %v", err)
	}
}

func TestRunStreamingEmitsDeltas(t *testing.T) {
	script := `printf '{"type":"assistant","message":{"content":[{"type":"text","text":"chunk one"}]},"session_id":"s-9"}\n'; ` +
		`printf '{"type":"assistant","message":{"content":[{"type":"text","text":"chunk two"}]}}\n'`
	r := shellRunner(script, WithEmitInterval(time.Millisecond))

	var mu sync.Mutex
	var deltas []string
	res, err := r.RunStreaming(context.Background(), RunSpec{Message: "x"}, func(delta, acc string) {
		mu.Lock()
		deltas = append(deltas, delta)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if res.Text != "chunk one\nchunk two" {
		t.Fatalf("Text = %q", res.Text)
	}
	if res.SessionID != "s-9" {
		t.Fatalf("SessionID = %q", res.SessionID)
	}

	mu.Lock()
	joined := strings.Join(deltas, "")
	mu.Unlock()
	if joined != res.Text {
		t.Fatalf("deltas reassemble to %q, want %q", joined, res.Text)
	}
}

func TestRunStreamingTimeout(t *testing.T) {
	r := shellRunner("sleep 10", WithTimeout(100*time.Millisecond))

	_, err := r.RunStreaming(context.Background(), RunSpec{Message: "x"}, nil)
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Fatalf("expected timeout failure, got %v", err)
	}
}
