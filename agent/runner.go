package agent

import (
	"bytes"
	"context"
	goerrors "errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/smallnest/clawgate/errors"
	"github.com/smallnest/clawgate/internal/logger"
	"go.uber.org/zap"
)

const defaultRunTimeout = 5 * time.Minute

// diagnosticLimit bounds the stderr/stdout tail carried on failures.
const diagnosticLimit = 2000

// Runner invokes the external agent CLI, one process per run. The
// provider supplies the argument vector; the resolver finds the binary.
type Runner struct {
	provider     Provider
	resolver     *ExecutableResolver
	binary       string // explicit override, skips resolution
	model        string
	workingDir   string
	timeout      time.Duration
	usePTY       bool
	emitInterval time.Duration
}

// RunnerOption configures a Runner at construction time.
type RunnerOption func(*Runner)

// WithBinary overrides the resolved executable path.
func WithBinary(path string) RunnerOption {
	return func(r *Runner) { r.binary = path }
}

// WithModel sets the default model hint. Providers only apply it when
// starting a fresh session, never on resume.
func WithModel(model string) RunnerOption {
	return func(r *Runner) { r.model = model }
}

// WithWorkingDir sets the default working directory for agent processes.
func WithWorkingDir(dir string) RunnerOption {
	return func(r *Runner) { r.workingDir = dir }
}

// WithTimeout sets the default per-run wall-clock limit.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPTY enables the pseudo-terminal streaming path.
func WithPTY(enabled bool) RunnerOption {
	return func(r *Runner) { r.usePTY = enabled }
}

// WithEmitInterval sets the delta emission throttle interval.
func WithEmitInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.emitInterval = d }
}

// NewRunner creates a runner for one provider.
func NewRunner(provider Provider, opts ...RunnerOption) *Runner {
	r := &Runner{
		provider:     provider,
		resolver:     NewExecutableResolver(),
		timeout:      defaultRunTimeout,
		emitInterval: DefaultEmitInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Provider returns the runner's provider.
func (r *Runner) Provider() Provider {
	return r.provider
}

func (r *Runner) binaryPath() string {
	if r.binary != "" {
		return r.binary
	}
	return r.resolver.Resolve(r.provider)
}

func (r *Runner) command(spec RunSpec) *exec.Cmd {
	if spec.Model == "" {
		spec.Model = r.model
	}
	bin := r.binaryPath()
	cmd := exec.Command(bin, r.provider.BuildArgs(spec)...)
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	} else if r.workingDir != "" {
		cmd.Dir = r.workingDir
	}
	return cmd
}

func (r *Runner) runTimeout(spec RunSpec) time.Duration {
	if spec.Timeout > 0 {
		return spec.Timeout
	}
	return r.timeout
}

// Run spawns one process, captures its full output, and parses it once
// on exit. ctx cancellation force-kills the process and rejects with a
// Cancelled failure, distinct from the wall-clock Timeout failure.
func (r *Runner) Run(ctx context.Context, spec RunSpec) (*Result, error) {
	cmd := r.command(spec)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = os.Stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("Starting agent process",
		zap.String("provider", r.provider.Name()),
		zap.String("binary", cmd.Path),
		zap.Bool("resume", spec.SessionID != ""))

	if err := cmd.Start(); err != nil {
		return nil, errors.SpawnFailure(cmd.Path, err)
	}

	waitErr := r.waitWithDeadline(ctx, cmd, r.runTimeout(spec))
	return r.finish(waitErr, stdout.String(), stderr.String(), nil)
}

// finish classifies a finished run: typed kill reasons pass through,
// non-zero exits keep diagnostics unless output still parsed, and a
// clean exit with unparseable output is a parse failure.
func (r *Runner) finish(waitErr error, stdout, stderr string, streamed *Result) (*Result, error) {
	var appErr *errors.AppError
	if goerrors.As(waitErr, &appErr) {
		return nil, appErr
	}

	parsed := streamed
	if parsed == nil || parsed.Text == "" {
		if whole := ParseBuffer(stdout); whole != nil {
			if parsed != nil && parsed.SessionID != "" && whole.SessionID == "" {
				whole.SessionID = parsed.SessionID
			}
			parsed = whole
		}
	}

	var exitErr *exec.ExitError
	if goerrors.As(waitErr, &exitErr) {
		if parsed != nil && parsed.Text != "" {
			return parsed, nil
		}
		return nil, errors.NonZeroExit(exitErr.ExitCode(), diagnostics(stderr, stdout))
	}
	if waitErr != nil {
		return nil, errors.Wrap(waitErr, errors.ErrCodeUnknown, "agent process wait failed")
	}

	if parsed == nil || parsed.Text == "" {
		if parsed != nil && parsed.SessionID != "" {
			return parsed, nil
		}
		return nil, errors.ParseFailure("agent produced no parseable output")
	}
	return parsed, nil
}

// waitWithDeadline waits for the process, force-killing it on deadline
// expiry or external cancellation. The two kill paths reject with
// distinguishable failures.
func (r *Runner) waitWithDeadline(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		kill(cmd)
		<-done
		return errors.Timeout("agent run")
	case <-ctx.Done():
		kill(cmd)
		<-done
		return errors.Cancelled("agent run")
	}
}

func kill(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// RunStreaming spawns one process and parses its output incrementally,
// invoking onDelta as assistant-visible text arrives. With the PTY path
// enabled the process sees a real terminal; otherwise plain pipes are
// used. On exit the incremental result is authoritative, falling back to
// a whole-buffer parse of everything captured.
func (r *Runner) RunStreaming(ctx context.Context, spec RunSpec, onDelta DeltaFunc) (*Result, error) {
	cmd := r.command(spec)
	parser := NewStreamParser(r.emitInterval, onDelta)

	var stderr bytes.Buffer
	var out io.ReadCloser
	var closer func()

	if r.usePTY {
		ptyFile, err := startPTY(cmd)
		if err == nil {
			out = ptyFile
			closer = func() { _ = ptyFile.Close() }
		} else {
			logger.Warn("PTY unavailable, falling back to pipes", zap.Error(err))
		}
	}

	if out == nil {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, errors.SpawnFailure(cmd.Path, err)
		}
		cmd.Stderr = &stderr
		cmd.Stdin = os.Stdin
		if err := cmd.Start(); err != nil {
			return nil, errors.SpawnFailure(cmd.Path, err)
		}
		out = pipe
		closer = func() {}
	}
	defer closer()

	// Watchdog kills the process on deadline or cancellation and records
	// which one fired.
	reason := make(chan error, 1)
	stopWatch := make(chan struct{})
	go func() {
		timer := time.NewTimer(r.runTimeout(spec))
		defer timer.Stop()
		select {
		case <-timer.C:
			reason <- errors.Timeout("agent run")
			kill(cmd)
		case <-ctx.Done():
			reason <- errors.Cancelled("agent run")
			kill(cmd)
		case <-stopWatch:
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := out.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
		}
		if err != nil {
			// A closed PTY reports EIO on process exit; treat any read
			// error as end of stream and let Wait classify the exit.
			break
		}
	}

	waitErr := cmd.Wait()
	close(stopWatch)

	select {
	case killErr := <-reason:
		return nil, killErr
	default:
	}

	return r.finish(waitErr, parser.raw.String(), stderr.String(), parser.Finish())
}

func diagnostics(stderr, stdout string) string {
	d := strings.TrimSpace(stderr)
	if d == "" {
		d = strings.TrimSpace(stdout)
	}
	if len(d) > diagnosticLimit {
		d = d[len(d)-diagnosticLimit:]
	}
	return d
}
