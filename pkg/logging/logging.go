// Package logging wraps log/slog with a reopenable file target, so the
// daemon can rotate its log on SIGHUP without restarting (§5: signal
// contract for log rotation) the way a long-lived syslog-adjacent
// daemon is expected to.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Logger is a reopenable slog target: Reopen closes and reopens the
// backing file at the same path, picking up a rename-based rotation
// done by logrotate or an operator, without losing the fd invariant
// that os.OpenFile(..., O_APPEND) gives a fresh inode on next write.
//
// The *slog.Logger returned by Logger() is built once, over a writer
// that indirects through l.file: callers that cache that pointer (as
// the scheduler does for the life of the daemon) still see rotated
// output after Reopen, since Reopen only swaps the file underneath.
type Logger struct {
	mu    sync.Mutex
	path  string
	level slog.Level
	file  *os.File
	base  *slog.Logger
}

// New opens path (or stdout if path is empty) and returns a Logger at
// the given level.
func New(path string, level slog.Level) (*Logger, error) {
	l := &Logger{path: path, level: level}
	if err := l.open(); err != nil {
		return nil, err
	}
	l.base = slog.New(slog.NewTextHandler(&redirectWriter{l: l}, &slog.HandlerOptions{Level: l.level}))
	return l, nil
}

func (l *Logger) open() error {
	var w *os.File
	if l.path == "" {
		w = os.Stdout
	} else {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("logging: open %s: %w", l.path, err)
		}
		w = f
	}
	l.file = w
	return nil
}

// redirectWriter forwards Write to l's current file under l's mutex,
// so the slog handler built over it keeps working across a Reopen
// even though the underlying *os.File has changed.
type redirectWriter struct{ l *Logger }

func (r *redirectWriter) Write(p []byte) (int, error) {
	r.l.mu.Lock()
	f := r.l.file
	r.l.mu.Unlock()
	return f.Write(p)
}

// Reopen closes the current file (if any) and reopens path, for use
// from a SIGHUP handler.
func (l *Logger) Reopen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path == "" {
		return nil // stdout has nothing to rotate
	}
	old := l.file
	if err := l.open(); err != nil {
		return err
	}
	if old != nil && old != os.Stdout {
		_ = old.Close()
	}
	return nil
}

// Logger returns the slog.Logger backed by this Logger's current (and
// future, across Reopen) file target.
func (l *Logger) Logger() *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.base
}

// Close closes the backing file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil || l.file == os.Stdout {
		return nil
	}
	return l.file.Close()
}
