// Package activitylog is the ActivityLog: an append-only, timestamped,
// human-readable event trail shared by every mutation handler. Writes
// are serialized; a failed write is silently dropped and never fatal,
// matching spec.md §4.8 and §7.
package activitylog

import (
	"log/slog"
	"os"
	"sync"
)

type Log struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// Open appends to (creating if needed) the file at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Log{file: f, logger: slog.New(handler)}, nil
}

func (l *Log) Close() error {
	return l.file.Close()
}

// Event appends one line summarizing a handler's operation and
// outcome. Args are additional slog key-value pairs, e.g.
// "target", target, "reason", reason.
func (l *Log) Event(op, username string, outcome bool, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := "ok"
	if !outcome {
		result = "fail"
	}
	attrs := append([]any{"user", username, "result", result}, args...)
	l.logger.Info(op, attrs...)
}
