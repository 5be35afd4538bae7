package errlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ChunkFailure describes a chunk whose model call failed.
type ChunkFailure struct {
	RunID string
	// Index is zero-based; the log shows it one-based.
	Index int
	Text  string
	Err   error
	Time  time.Time
}

// Log appends failure records to a text file. Earlier content is never rewritten.
type Log struct {
	Path string

	mu sync.Mutex
}

// New returns a log writing to path.
func New(path string) *Log {
	return &Log{Path: path}
}

// Append writes one record and closes the file so it survives an abrupt exit.
func (l *Log) Append(failure ChunkFailure) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create error log dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}

	if _, err := f.WriteString(Format(failure)); err != nil {
		f.Close()
		return fmt.Errorf("append error log: %w", err)
	}
	return f.Close()
}

// Exists reports whether anything has been logged yet.
func (l *Log) Exists() bool {
	info, err := os.Stat(l.Path)
	return err == nil && info.Size() > 0
}

// Format renders a record the way Append writes it.
func Format(failure ChunkFailure) string {
	ts := failure.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := "unknown error"
	if failure.Err != nil {
		msg = failure.Err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n--- Часть %d [run %s, %s] ---\n", failure.Index+1, failure.RunID, ts.UTC().Format(time.RFC3339))
	b.WriteString(failure.Text)
	if !strings.HasSuffix(failure.Text, "\n") {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Ошибка: %s\n", msg)
	return b.String()
}
