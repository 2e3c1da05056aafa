package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// General errors
	ErrCodeUnknown       ErrorCode = "UNKNOWN"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"

	// Run errors - one invocation of the external agent process
	ErrCodeSpawnFailure ErrorCode = "SPAWN_FAILURE"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeCancelled    ErrorCode = "CANCELLED"
	ErrCodeNonZeroExit  ErrorCode = "NON_ZERO_EXIT"
	ErrCodeParseFailure ErrorCode = "PARSE_FAILURE"

	// Queue errors
	ErrCodeQueueFull ErrorCode = "QUEUE_FULL"

	// Session errors
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

	// Channel errors
	ErrCodeChannelNotConfigured ErrorCode = "CHANNEL_NOT_CONFIGURED"
	ErrCodeChannelSendFailed    ErrorCode = "CHANNEL_SEND_FAILED"

	// Browser errors
	ErrCodeBrowserNotReady ErrorCode = "BROWSER_NOT_READY"
)

// AppError represents a structured application error
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new application error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Newf creates a new application error with a formatted message
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]any),
	}
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code from an error if it's an AppError
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}

// GetMessage returns the error message
func GetMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Is checks if error carries a specific code
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Common error constructors

func InvalidInput(msg string) *AppError {
	return New(ErrCodeInvalidInput, msg)
}

func InvalidConfig(msg string) *AppError {
	return New(ErrCodeInvalidConfig, msg)
}

func NotFound(what string) *AppError {
	return New(ErrCodeNotFound, what+" not found")
}

func AlreadyExists(what string) *AppError {
	return New(ErrCodeAlreadyExists, what+" already exists")
}

// SpawnFailure indicates the external executable could not be started.
func SpawnFailure(binary string, err error) *AppError {
	return Wrapf(err, ErrCodeSpawnFailure, "failed to start %s", binary)
}

// Timeout indicates a run exceeded its wall-clock deadline and was killed.
func Timeout(operation string) *AppError {
	return New(ErrCodeTimeout, operation+" timed out")
}

// Cancelled indicates a run was aborted by an explicit caller request.
// It is surfaced as an aborted state, never as a generic error.
func Cancelled(operation string) *AppError {
	return New(ErrCodeCancelled, operation+" cancelled")
}

// NonZeroExit preserves the process diagnostics for the caller.
func NonZeroExit(code int, diagnostics string) *AppError {
	e := Newf(ErrCodeNonZeroExit, "process exited with status %d", code)
	if diagnostics != "" {
		e = e.WithContext("diagnostics", diagnostics)
	}
	return e
}

// ParseFailure indicates process output did not decode into any
// recognizable record. Never silently treated as success.
func ParseFailure(msg string) *AppError {
	return New(ErrCodeParseFailure, msg)
}

// QueueFull indicates the per-lane backlog bound was exceeded.
func QueueFull(laneID string) *AppError {
	return Newf(ErrCodeQueueFull, "queue for lane %q is full", laneID)
}

func SessionNotFound(key string) *AppError {
	return Newf(ErrCodeSessionNotFound, "session %q not found", key)
}

func ChannelNotConfigured(name string) *AppError {
	return Newf(ErrCodeChannelNotConfigured, "channel %q is not configured", name)
}
