package agent

import (
	"errors"
	"testing"
)

func newFakeResolver() *ExecutableResolver {
	return &ExecutableResolver{
		cache:      make(map[string]string),
		getenv:     func(string) string { return "" },
		lookPath:   func(string) (string, error) { return "", errors.New("not found") },
		executable: func(string) bool { return false },
	}
}

func TestResolveEnvOverrideWins(t *testing.T) {
	r := newFakeResolver()
	r.getenv = func(key string) string {
		if key == "CLAWGATE_CLAUDE_BIN" {
			return "/custom/claude"
		}
		return ""
	}
	r.executable = func(string) bool { return true }

	p, _ := ProviderByName("claude")
	if got := r.Resolve(p); got != "/custom/claude" {
		t.Fatalf("Resolve() = %q, want env override", got)
	}
}

func TestResolveProbesInstallCandidates(t *testing.T) {
	r := newFakeResolver()
	probed := []string{}
	r.executable = func(path string) bool {
		probed = append(probed, path)
		return path == "/usr/local/bin/claude"
	}

	p, _ := ProviderByName("claude")
	if got := r.Resolve(p); got != "/usr/local/bin/claude" {
		t.Fatalf("Resolve() = %q", got)
	}
	if len(probed) < 2 {
		t.Fatalf("expected candidates before match to be probed, got %q", probed)
	}
}

func TestResolveFallsBackToPATH(t *testing.T) {
	r := newFakeResolver()
	r.lookPath = func(name string) (string, error) {
		if name == "claude" {
			return "/home/u/bin/claude", nil
		}
		return "", errors.New("not found")
	}

	p, _ := ProviderByName("claude")
	if got := r.Resolve(p); got != "/home/u/bin/claude" {
		t.Fatalf("Resolve() = %q", got)
	}
}

func TestResolveBareNameWhenNothingFound(t *testing.T) {
	r := newFakeResolver()
	p, _ := ProviderByName("codex")
	if got := r.Resolve(p); got != "codex" {
		t.Fatalf("Resolve() = %q, want bare default", got)
	}
}

func TestResolveCachesResult(t *testing.T) {
	r := newFakeResolver()
	calls := 0
	r.lookPath = func(name string) (string, error) {
		calls++
		return "/first/claude", nil
	}

	p, _ := ProviderByName("claude")
	first := r.Resolve(p)

	r.lookPath = func(name string) (string, error) {
		calls++
		return "/second/claude", nil
	}
	second := r.Resolve(p)

	if first != second {
		t.Fatalf("cached result changed: %q then %q", first, second)
	}
	if calls != 1 {
		t.Fatalf("lookPath called %d times, want 1", calls)
	}
}
