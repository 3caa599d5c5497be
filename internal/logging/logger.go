package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// OperationLog is one completed operation recorded for the optional JSONL
// audit trail, independent of the operational slog stream: it is meant to
// be grepped or replayed after the fact, one line per operation, rather
// than tailed as it happens.
type OperationLog struct {
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id"`
	Operation  string    `json:"operation"`
	Outcome    string    `json:"outcome"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Logger appends OperationLog entries to a file as newline-delimited
// JSON. Log is a no-op until SetOutput succeeds or SetConsole enables
// the stdout echo.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	console bool
}

var defaultLogger = &Logger{}

// Default returns the process-wide operation logger.
func Default() *Logger { return defaultLogger }

// SetOutput opens path for append and directs every future Log call to
// it. Closes any previously open file first.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables or disables a one-line human-readable echo of every
// entry to stdout, independent of the JSONL file.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log appends one OperationLog entry. A no-op if neither a file nor
// console output has been configured.
func (l *Logger) Log(entry OperationLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil && !l.console {
		return
	}
	entry.Timestamp = time.Now()

	if l.console {
		status := "ok"
		if entry.Outcome != "ok" {
			status = entry.Outcome
		}
		fmt.Printf("[op] %s session=%s %s (%dms)\n", status, entry.SessionID, entry.Operation, entry.DurationMs)
	}

	if l.file != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return
		}
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the underlying file, if any.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
