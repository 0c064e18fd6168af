// Package convlog appends significant conversation events to a
// newline-delimited JSON file for audit and history display. It is not
// required for correctness; write failures are logged and swallowed.
package convlog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types recorded in the log.
const (
	EventUserMessageSent           = "user_message_sent"
	EventAssistantMessageCompleted = "assistant_message_completed"
	EventToolCallStarted           = "tool_call_started"
	EventToolCallEnded             = "tool_call_ended"
)

type record struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	Data      any    `json:"data"`
}

type Logger struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// New creates an append-only conversation log at path, creating parent
// directories as needed. A nil *Logger is valid and drops all records.
func New(path string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Logger{path: path, logger: logger}, nil
}

// Append writes one record. Errors are logged, never returned; the
// conversation must not fail because its audit trail does.
func (l *Logger) Append(eventType string, data any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(record{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		Data:      data,
	})
	if err != nil {
		l.logger.Error("convlog: marshal record", slog.Any("err", err))
		return
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.Error("convlog: open", slog.Any("err", err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Error("convlog: write", slog.Any("err", err))
	}
}
