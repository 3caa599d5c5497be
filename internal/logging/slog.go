package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger    atomic.Pointer[slog.Logger]
	logLevel    = new(slog.LevelVar)
	traceFields atomic.Bool
)

func init() {
	logLevel.Set(slog.LevelInfo)
	opLogger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
	traceFields.Store(true)
}

// Op returns the operational logger for daemon and infrastructure
// events. This is separate from the JSONL audit Logger, which records
// individual client operations.
func Op() *slog.Logger {
	return opLogger.Load()
}

// InitStructured reconfigures the operational logger. format is "text"
// (default) or "json"; level is "debug", "info", "warn" or "error".
// includeTraceID controls whether OpWithTrace decorates lines with the
// active span's identifiers.
func InitStructured(format, level string, includeTraceID bool) {
	SetLevelFromString(level)
	traceFields.Store(includeTraceID)

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	opLogger.Store(slog.New(handler))
}

// SetLevelFromString sets the log level from a string. Valid values:
// "debug", "info", "warn", "error". Unknown values leave the level
// unchanged.
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}

// OpWithTrace returns the operational logger bound to the given trace
// identifiers, or the plain logger when trace decoration is disabled or
// traceID is empty.
func OpWithTrace(traceID, spanID string) *slog.Logger {
	l := opLogger.Load()
	if !traceFields.Load() || traceID == "" {
		return l
	}
	args := []any{"trace_id", traceID}
	if spanID != "" {
		args = append(args, "span_id", spanID)
	}
	return l.With(args...)
}
