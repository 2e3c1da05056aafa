package agent

import (
	"testing"
)

func TestClaudeArgsFreshRun(t *testing.T) {
	p, err := ProviderByName("claude")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	args := p.BuildArgs(RunSpec{Message: "hello world", Model: "opus"})
	want := []string{"-p", "--verbose", "--output-format", "stream-json", "--model", "opus", "hello world"}
	assertArgs(t, args, want)
}

func TestClaudeArgsResumeExcludesModel(t *testing.T) {
	p, _ := ProviderByName("claude")

	args := p.BuildArgs(RunSpec{Message: "continue", Model: "opus", SessionID: "sess-42"})
	want := []string{"-p", "--verbose", "--output-format", "stream-json", "--resume", "sess-42", "continue"}
	assertArgs(t, args, want)

	for _, a := range args {
		if a == "--model" {
			t.Fatal("resume run must not carry a model flag")
		}
	}
}

func TestCodexArgs(t *testing.T) {
	p, err := ProviderByName("codex")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	fresh := p.BuildArgs(RunSpec{Message: "hi", Model: "gpt-5"})
	assertArgs(t, fresh, []string{"exec", "--json", "--model", "gpt-5", "hi"})

	resume := p.BuildArgs(RunSpec{Message: "more", Model: "gpt-5", SessionID: "T9"})
	assertArgs(t, resume, []string{"exec", "resume", "T9", "--json", "more"})
}

func TestMessageIsSingleFinalArgument(t *testing.T) {
	message := `multi word "quoted" message; with $(shell) chars`
	for _, name := range []string{"claude", "codex"} {
		p, _ := ProviderByName(name)
		args := p.BuildArgs(RunSpec{Message: message})
		if args[len(args)-1] != message {
			t.Fatalf("%s: message mangled: %q", name, args[len(args)-1])
		}
		count := 0
		for _, a := range args {
			if a == message {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("%s: message appears %d times", name, count)
		}
	}
}

func TestProviderByNameDefaultsToClaude(t *testing.T) {
	p, err := ProviderByName("")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if p.Name() != "claude" {
		t.Fatalf("default provider = %s", p.Name())
	}

	if _, err := ProviderByName("gemini"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func assertArgs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("args = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
