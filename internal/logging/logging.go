// Package logging provides structured logging using Go's slog package.
package logging

import (
	"log/slog"
	"os"
	"time"
)

var (
	// defaultLogger is the global logger instance.
	defaultLogger *slog.Logger
)

func init() {
	// Initialize with a default logger (text format, Warn level).
	// Library consumers call InitLogger to change it.
	InitLogger(LevelWarn, FormatText)
}

// Level represents a log level.
type Level int

const (
	// LevelDebug is for debug messages.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// Format represents a log output format.
type Format int

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON Format = iota
	// FormatText outputs logs in human-readable text format.
	FormatText
)

// InitLogger initializes the global logger with the specified level and format.
func InitLogger(level Level, format Format) {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Customize timestamp format
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	defaultLogger = slog.New(handler)
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	return defaultLogger
}

// Helper functions for common logging patterns

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// LedgerAppend logs a successful ledger append.
func LedgerAppend(sequence int64, agentID string, payloadLen int, args ...any) {
	allArgs := []any{
		"sequence", sequence,
		"agent_id", agentID,
		"payload_len", payloadLen,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Info("ledger_append", allArgs...)
}

// LedgerVerify logs the outcome of a chain verification.
func LedgerVerify(valid bool, entries int64, failedSequence int64, args ...any) {
	allArgs := []any{
		"valid", valid,
		"entries", entries,
	}
	if !valid {
		allArgs = append(allArgs, "failed_sequence", failedSequence)
	}
	allArgs = append(allArgs, args...)
	if valid {
		defaultLogger.Info("ledger_verify", allArgs...)
	} else {
		defaultLogger.Warn("ledger_verify", allArgs...)
	}
}

// AgentRegistered logs an agent registration.
func AgentRegistered(agentID string, class int, args ...any) {
	allArgs := []any{
		"agent_id", agentID,
		"class", class,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Info("agent_registered", allArgs...)
}

// SecurityEvent logs security-related events (rejected imports, scope
// violations, identity mismatches).
func SecurityEvent(event, agentID string, args ...any) {
	allArgs := []any{
		"event", event,
		"agent_id", agentID,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Warn("security_event", allArgs...)
}

// PageCache logs page cache lifecycle events (not per-page hits).
func PageCache(event string, capacity int, args ...any) {
	allArgs := []any{
		"event", event,
		"capacity", capacity,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Debug("page_cache", allArgs...)
}
