package agent

import (
	"os"
	"path/filepath"
	"time"

	"github.com/smallnest/clawgate/errors"
)

// RunSpec describes one invocation of the external agent CLI.
type RunSpec struct {
	// Message is the user prompt. Always passed as a single final
	// positional argument, never shell-concatenated.
	Message string
	// Model hint, applied only when no SessionID is present.
	Model string
	// SessionID resumes a prior upstream conversation when non-empty.
	SessionID string
	// WorkingDir overrides the runner's working directory.
	WorkingDir string
	// Timeout overrides the runner's default wall-clock limit.
	Timeout time.Duration
}

// Provider builds the argument vector for one upstream CLI tool and knows
// where its binary usually lives. Providers must be stateless.
type Provider interface {
	Name() string
	DefaultBinary() string
	// EnvOverride names the environment variable that forces a binary path.
	EnvOverride() string
	// InstallCandidates lists common install locations, probed in order.
	InstallCandidates() []string
	// BuildArgs produces the full argument vector for a run. The message
	// is always the last element.
	BuildArgs(spec RunSpec) []string
}

// ProviderByName returns the provider for a configured name. An empty
// name selects claude.
func ProviderByName(name string) (Provider, error) {
	switch name {
	case "", "claude":
		return claudeProvider{}, nil
	case "codex":
		return codexProvider{}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown agent provider %q", name)
	}
}

// claudeProvider drives the Claude Code CLI in non-interactive
// stream-json mode. Session tokens arrive in the session_id field.
type claudeProvider struct{}

func (claudeProvider) Name() string          { return "claude" }
func (claudeProvider) DefaultBinary() string { return "claude" }
func (claudeProvider) EnvOverride() string   { return "CLAWGATE_CLAUDE_BIN" }

func (claudeProvider) InstallCandidates() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".claude", "local", "claude"),
		filepath.Join(home, ".local", "bin", "claude"),
		"/usr/local/bin/claude",
		"/opt/homebrew/bin/claude",
	}
}

func (claudeProvider) BuildArgs(spec RunSpec) []string {
	args := []string{"-p", "--verbose", "--output-format", "stream-json"}
	if spec.SessionID != "" {
		args = append(args, "--resume", spec.SessionID)
	} else if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	return append(args, spec.Message)
}

// codexProvider drives the Codex CLI via "codex exec --json". Session
// tokens arrive as thread_id in thread.started events; resume runs use
// the exec resume subcommand.
type codexProvider struct{}

func (codexProvider) Name() string          { return "codex" }
func (codexProvider) DefaultBinary() string { return "codex" }
func (codexProvider) EnvOverride() string   { return "CLAWGATE_CODEX_BIN" }

func (codexProvider) InstallCandidates() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".local", "bin", "codex"),
		"/usr/local/bin/codex",
		"/opt/homebrew/bin/codex",
	}
}

func (codexProvider) BuildArgs(spec RunSpec) []string {
	args := []string{"exec"}
	if spec.SessionID != "" {
		args = append(args, "resume", spec.SessionID, "--json")
	} else {
		args = append(args, "--json")
		if spec.Model != "" {
			args = append(args, "--model", spec.Model)
		}
	}
	return append(args, spec.Message)
}
