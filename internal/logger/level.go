package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents log level
type LogLevel int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production
	DebugLevel LogLevel = iota
	// InfoLevel is the default logging priority
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs
	ErrorLevel
	// FatalLevel logs. After a fatal log, the application will exit
	FatalLevel
)

var (
	level    *zap.AtomicLevel
	levelMux sync.Mutex
)

// ensureLevel returns the shared atomic level, creating it on first use.
func ensureLevel() zap.AtomicLevel {
	levelMux.Lock()
	defer levelMux.Unlock()

	if level == nil {
		newLevel := zap.NewAtomicLevel()
		level = &newLevel
	}
	return *level
}

// SetLevel changes the log level dynamically
func SetLevel(l LogLevel) {
	ensureLevel().SetLevel(toZapLevel(l))
}

// GetLevel gets the current log level
func GetLevel() LogLevel {
	switch ensureLevel().Level() {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	case zapcore.FatalLevel:
		return FatalLevel
	default:
		return InfoLevel
	}
}

// ParseLevel parses a string to a log level
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "INFO"
	}
}

func toZapLevel(l LogLevel) zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// FieldLogger provides structured logging with pre-bound fields
type FieldLogger struct {
	logger *zap.Logger
	fields []zap.Field
}

// Module creates a field logger with module name
func Module(name string) *FieldLogger {
	return &FieldLogger{
		logger: L(),
		fields: []zap.Field{zap.String("module", name)},
	}
}

// With creates a child logger with additional fields
func (fl *FieldLogger) With(fields ...zap.Field) *FieldLogger {
	return &FieldLogger{
		logger: fl.logger,
		fields: append(fl.fields, fields...),
	}
}

// Debug logs at debug level
func (fl *FieldLogger) Debug(msg string, fields ...zap.Field) {
	fl.logger.Debug(msg, append(fl.fields, fields...)...)
}

// Info logs at info level
func (fl *FieldLogger) Info(msg string, fields ...zap.Field) {
	fl.logger.Info(msg, append(fl.fields, fields...)...)
}

// Warn logs at warn level
func (fl *FieldLogger) Warn(msg string, fields ...zap.Field) {
	fl.logger.Warn(msg, append(fl.fields, fields...)...)
}

// Error logs at error level
func (fl *FieldLogger) Error(msg string, fields ...zap.Field) {
	fl.logger.Error(msg, append(fl.fields, fields...)...)
}
