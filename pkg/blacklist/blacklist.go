// Package blacklist reads the basename blacklist file (§6): one
// basename per line, '#' comments, charset [A-Za-z0-9._-]. The
// scanner consults this as a pure "contains?" predicate; parsing its
// source file is a narrow, separable concern kept out of pkg/scanner.
package blacklist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// List is a set of blacklisted executable basenames, reload-gated on
// the source file's mtime (§4.8 reload: "reload blacklist (mtime-gated)").
type List struct {
	names map[string]struct{}
	path  string
	mtime int64
}

// Load reads path into a new List.
func Load(path string) (*List, error) {
	l := &List{names: make(map[string]struct{}), path: path}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Empty returns a List with no blacklisted entries and no backing file.
func Empty() *List {
	return &List{names: make(map[string]struct{})}
}

// Contains reports whether basename is blacklisted.
func (l *List) Contains(basename string) bool {
	_, ok := l.names[basename]
	return ok
}

// ReloadIfChanged re-reads the backing file only if its mtime has
// advanced since the last load, returning whether it reloaded.
func (l *List) ReloadIfChanged() (bool, error) {
	if l.path == "" {
		return false, nil
	}
	fi, err := os.Stat(l.path)
	if err != nil {
		return false, fmt.Errorf("blacklist: stat %s: %w", l.path, err)
	}
	if fi.ModTime().Unix() <= l.mtime {
		return false, nil
	}
	if err := l.reload(); err != nil {
		return false, err
	}
	return true, nil
}

func (l *List) reload() error {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("blacklist: open %s: %w", l.path, err)
	}
	defer f.Close()

	names := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !validBasename(line) {
			return fmt.Errorf("blacklist: %s:%d: invalid basename %q", l.path, lineNo, line)
		}
		names[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("blacklist: scan %s: %w", l.path, err)
	}

	l.names = names
	if fi, err := os.Stat(l.path); err == nil {
		l.mtime = fi.ModTime().Unix()
	}
	return nil
}

func validBasename(s string) bool {
	if filepath.Base(s) != s {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
