// Package logger provides structured logging for turnsync services.
//
// This package wraps Go's standard log/slog with:
//   - Session, room and turn fields pulled from context.Context
//   - Automatic API key redaction for provider URLs and errors
//   - Level and format control from the environment (LOG_LEVEL, LOG_FORMAT)
//
// All exported functions use the global DefaultLogger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	output io.Writer = os.Stderr
	format           = "text"
)

func init() {
	format = strings.ToLower(os.Getenv("LOG_FORMAT"))
	DefaultLogger = newLogger(ParseLevel(os.Getenv("LOG_LEVEL")))
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if format == "json" {
		inner = slog.NewJSONHandler(output, opts)
	} else {
		inner = slog.NewTextHandler(output, opts)
	}
	return slog.New(newSessionHandler(inner))
}

// SetLevel changes the logging level for all subsequent log operations.
// This replaces the entire logger instance.
func SetLevel(level slog.Level) {
	DefaultLogger = newLogger(level)
}

// SetOutput redirects log output and rebuilds the logger at the given level.
// Intended for tests that assert on log lines.
func SetOutput(w io.Writer, level slog.Level) {
	output = w
	DefaultLogger = newLogger(level)
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context fields attached.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context fields attached.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context fields attached.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context fields attached.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

var (
	// apiKeyPatterns detects credentials that can leak through provider URLs and errors.
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`),          // Google API keys
		regexp.MustCompile(`Token\s+[a-zA-Z0-9_-]{16,}`),     // Deepgram auth header
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.-]+`),       // Bearer tokens
		regexp.MustCompile(`(?i)(api_?key|token)=[^&\s"]+`), // query string credentials
	}
)

// RedactSensitiveData removes API keys and other credentials from strings.
// Header style credentials keep their scheme, query parameters keep their name.
func RedactSensitiveData(input string) string {
	result := input
	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			switch {
			case strings.HasPrefix(match, "Bearer "):
				return "Bearer [REDACTED]"
			case strings.HasPrefix(match, "Token "):
				return "Token [REDACTED]"
			case strings.Contains(match, "="):
				return match[:strings.Index(match, "=")+1] + "[REDACTED]"
			case len(match) > 8:
				return match[:4] + "...[REDACTED]"
			default:
				return "[REDACTED]"
			}
		})
	}
	return result
}
