package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/smallnest/clawgate/internal/logger"
	"go.uber.org/zap"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		logger: logger.L(),
	}
}

// Handle handles an error with appropriate logging based on severity
func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	code := GetCode(err)
	msg := GetMessage(err)

	switch code {
	case ErrCodeInvalidInput, ErrCodeNotFound, ErrCodeAlreadyExists, ErrCodeQueueFull:
		// Caller errors, surfaced synchronously anyway
		h.logger.Debug("Caller error", zap.String("code", string(code)), zap.String("message", msg))
	case ErrCodeCancelled:
		// Not a failure, the caller asked for it
		h.logger.Debug("Run cancelled", zap.String("message", msg))
	case ErrCodeTimeout, ErrCodeUnavailable:
		h.logger.Info("Transient error", zap.String("code", string(code)), zap.String("message", msg))
	case ErrCodeSpawnFailure, ErrCodeNonZeroExit, ErrCodeParseFailure:
		h.logWithError("Run failed", err)
	case ErrCodeInvalidConfig:
		h.logWithStack("Configuration error", err)
	default:
		h.logWithError("Unknown error", err)
	}
}

// Handlef handles an error with formatted message
func (h *ErrorHandler) Handlef(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	h.logger.Error(msg,
		zap.String("error_code", string(GetCode(err))),
		zap.String("error_message", GetMessage(err)),
		zap.Error(err))
}

// Recover handles panics and converts to errors
func (h *ErrorHandler) Recover(operation string) error {
	if r := recover(); r != nil {
		stack := debug.Stack()
		err := New(ErrCodeUnknown, fmt.Sprintf("panic in %s", operation))

		h.logger.Error("Panic recovered",
			zap.String("operation", operation),
			zap.Any("recover", r),
			zap.String("stack", string(stack)))

		return err
	}
	return nil
}

// logWithError logs error with full details
func (h *ErrorHandler) logWithError(message string, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		h.logger.Error(message,
			zap.String("error_code", string(appErr.Code)),
			zap.String("error_message", appErr.Message),
			zap.Error(appErr.Err),
			zap.Any("context", appErr.Context))
	} else {
		h.logger.Error(message,
			zap.String("error_code", string(GetCode(err))),
			zap.String("error_message", GetMessage(err)),
			zap.Error(err))
	}
}

// logWithStack logs error with stack trace
func (h *ErrorHandler) logWithStack(message string, err error) {
	h.logger.Error(message,
		zap.String("error_code", string(GetCode(err))),
		zap.String("error_message", GetMessage(err)),
		zap.Error(err),
		zap.String("stack", string(debug.Stack())))
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	code := GetCode(err)
	retryableCodes := []ErrorCode{
		ErrCodeTimeout,
		ErrCodeUnavailable,
	}

	if slices.Contains(retryableCodes, code) {
		return true
	}

	// Also check error message for network-related issues
	msg := strings.ToLower(err.Error())
	networkKeywords := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"network",
	}

	for _, keyword := range networkKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}

	return false
}

// GetUserMessage returns a user-friendly error message
func GetUserMessage(err error) string {
	if err == nil {
		return ""
	}

	code := GetCode(err)
	msg := GetMessage(err)

	messages := map[ErrorCode]string{
		ErrCodeInvalidInput:    "The input provided is invalid. Please check and try again.",
		ErrCodeInvalidConfig:   "Configuration error. Please check your settings.",
		ErrCodeNotFound:        "The requested resource was not found.",
		ErrCodeAlreadyExists:   "The resource already exists.",
		ErrCodeSpawnFailure:    "The agent could not be started. Check that the CLI tool is installed.",
		ErrCodeTimeout:         "The agent took too long to respond. Please try again.",
		ErrCodeQueueFull:       "Too many pending requests for this conversation. Please wait.",
		ErrCodeParseFailure:    "The agent produced unreadable output.",
		ErrCodeSessionNotFound: "Session not found. Please start a new conversation.",
	}

	if userMsg, ok := messages[code]; ok {
		return userMsg
	}

	if msg != "" {
		return msg
	}

	return "An unexpected error occurred. Please try again."
}
