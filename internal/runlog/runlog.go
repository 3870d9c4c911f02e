// Package runlog builds the per-run orchestrator logger. The log file is one of
// the run's published artifacts, so every run truncates and rewrites it.
package runlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger wraps a slog.Logger together with the file backing it.
type Logger struct {
	*slog.Logger
	file *os.File
	path string
}

// ParseLevel maps a config string to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing text records to both path and stderr.
// The file at path is truncated.
func New(path string, level slog.Level) (*Logger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating run log %s: %w", path, err)
	}

	handler := slog.NewTextHandler(io.MultiWriter(f, os.Stderr), &slog.HandlerOptions{Level: level})
	return &Logger{
		Logger: slog.New(handler),
		file:   f,
		path:   path,
	}, nil
}

// NewDiscard returns a logger that drops everything. Used by tests and by
// commands that have no run log configured.
func NewDiscard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Path returns the log file location, or "" for a discard logger.
func (l *Logger) Path() string { return l.path }

// Sync flushes buffered records to disk so the file can be uploaded mid-run.
func (l *Logger) Sync() {
	if l.file != nil {
		l.file.Sync()
	}
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	l.file.Sync()
	return l.file.Close()
}
