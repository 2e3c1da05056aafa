package errors

import (
	"errors"
	"testing"
)

func TestNewError(t *testing.T) {
	err := New(ErrCodeInvalidInput, "test error")
	if err.Code != ErrCodeInvalidInput {
		t.Errorf("expected code %s, got %s", ErrCodeInvalidInput, err.Code)
	}
	if err.Message != "test error" {
		t.Errorf("expected message 'test error', got '%s'", err.Message)
	}
}

func TestWrapError(t *testing.T) {
	original := errors.New("original error")
	wrapped := Wrap(original, ErrCodeSpawnFailure, "failed to start")

	if wrapped.Code != ErrCodeSpawnFailure {
		t.Errorf("expected code %s, got %s", ErrCodeSpawnFailure, wrapped.Code)
	}
	if !errors.Is(wrapped, original) {
		t.Error("wrapped error should contain original error")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ErrCodeUnknown, "nothing") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"app error", New(ErrCodeTimeout, "test"), ErrCodeTimeout},
		{"wrapped app error", Wrap(New(ErrCodeCancelled, "inner"), ErrCodeUnknown, "outer"), ErrCodeUnknown},
		{"standard error", errors.New("standard"), ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("expected code %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestIsDistinguishesTimeoutFromCancelled(t *testing.T) {
	timeout := Timeout("agent run")
	cancelled := Cancelled("agent run")

	if !Is(timeout, ErrCodeTimeout) {
		t.Error("timeout error should match ErrCodeTimeout")
	}
	if Is(timeout, ErrCodeCancelled) {
		t.Error("timeout error must not match ErrCodeCancelled")
	}
	if !Is(cancelled, ErrCodeCancelled) {
		t.Error("cancelled error should match ErrCodeCancelled")
	}
	if Is(cancelled, ErrCodeTimeout) {
		t.Error("cancelled error must not match ErrCodeTimeout")
	}
}

func TestNonZeroExitKeepsDiagnostics(t *testing.T) {
	err := NonZeroExit(2, "stderr tail here")
	if err.Context["diagnostics"] != "stderr tail here" {
		t.Errorf("expected diagnostics in context, got %v", err.Context)
	}
}

func TestQueueFull(t *testing.T) {
	err := QueueFull("telegram:42")
	if !Is(err, ErrCodeQueueFull) {
		t.Error("expected queue full code")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"timeout", Timeout("run"), true},
		{"network message", errors.New("dial tcp: connection refused"), true},
		{"parse failure", ParseFailure("bad output"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}
