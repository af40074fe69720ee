package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/quietgrove/gatehouse/pkg/contextkeys"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLogLevel parses a log level string, defaulting to info
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) toSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured JSON logging using stdlib slog
type Logger struct {
	logger *slog.Logger
	level  LogLevel
}

// NewLogger creates a new structured logger using slog
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level.toSlogLevel(),
	})

	return &Logger{
		logger: slog.New(handler),
		level:  level,
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		logger: l.logger.With(key, value),
		level:  l.level,
	}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		logger: l.logger.With(args...),
		level:  l.level,
	}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.logger.Debug(message)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.logger.Info(message)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.logger.Warn(message)
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.logger.Error(message)
}

// ForRequest returns a logger enriched with the request ID and client IP
// from the context, when present.
func (l *Logger) ForRequest(ctx context.Context) *Logger {
	out := l
	if requestID := contextkeys.RequestID(ctx); requestID != "" {
		out = out.WithField("request_id", requestID)
	}
	if ip := contextkeys.ClientIP(ctx); ip != "" {
		out = out.WithField("client_ip", ip)
	}
	return out
}

// SecurityEvent logs a security-relevant rejection. Token and CSRF secret
// values must never be passed here; callers supply only the reason code.
func (l *Logger) SecurityEvent(ctx context.Context, event, path, method, reason string) {
	l.ForRequest(ctx).WithFields(map[string]interface{}{
		"event":  event,
		"path":   path,
		"method": method,
		"reason": reason,
	}).Warn("security event")
}
