// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package marker

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Log is the shared, append-only converter log for one run. It is truncated
// once when opened; every job appends to it.
type Log struct {
	f     *os.File
	path  string
	runID string
}

// OpenLog truncates or creates the log at path and writes a header carrying
// a fresh run ID.
func OpenLog(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log %s: %w", path, err)
	}

	l := &Log{f: f, path: path, runID: uuid.NewString()}
	if _, err := fmt.Fprintf(f, "=== run %s started %s ===\n", l.runID, time.Now().Format(time.RFC3339)); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing log header: %w", err)
	}
	return l, nil
}

// Write appends p to the log.
func (l *Log) Write(p []byte) (int, error) {
	return l.f.Write(p)
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// RunID identifies the run that owns this log.
func (l *Log) RunID() string { return l.runID }

// Contents returns everything logged so far, including output of earlier
// jobs in the run.
func (l *Log) Contents() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Sprintf("(log %s unreadable: %v)", l.path, err)
	}
	return string(data)
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.f.Close()
}
