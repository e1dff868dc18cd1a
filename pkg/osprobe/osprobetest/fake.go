// Package osprobetest provides an in-memory osprobe.Probe double for
// scanner/predictor/scheduler tests, the same role the teacher's tests
// play by pointing readers at a temp-dir fake /proc tree, except here
// the interface boundary lets us skip the filesystem entirely.
package osprobetest

import (
	"context"
	"fmt"
	"time"

	"github.com/kpreload/preloadd/pkg/osprobe"
)

// Fake is a scriptable osprobe.Probe.
type Fake struct {
	Running []osprobe.RunningProc
	Maps    map[int][]osprobe.MapRegion // pid -> regions
	Mem     osprobe.MemStat
	Mtimes  map[string]time.Time

	EnumerateErr error
	ReadaheadErr error

	Readaheads []ReadaheadCall
}

// ReadaheadCall records one invocation of Readahead for assertions.
type ReadaheadCall struct {
	Path          string
	Offset, Length int64
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Maps:   make(map[int][]osprobe.MapRegion),
		Mtimes: make(map[string]time.Time),
	}
}

func (f *Fake) EnumerateRunning(ctx context.Context) ([]osprobe.RunningProc, error) {
	if f.EnumerateErr != nil {
		return nil, f.EnumerateErr
	}
	out := make([]osprobe.RunningProc, len(f.Running))
	copy(out, f.Running)
	return out, nil
}

func (f *Fake) ListMaps(ctx context.Context, pid int) ([]osprobe.MapRegion, error) {
	return f.Maps[pid], nil
}

func (f *Fake) MemStat(ctx context.Context) (osprobe.MemStat, error) {
	return f.Mem, nil
}

func (f *Fake) Readahead(ctx context.Context, path string, offset, length int64) error {
	f.Readaheads = append(f.Readaheads, ReadaheadCall{Path: path, Offset: offset, Length: length})
	if f.ReadaheadErr != nil {
		return f.ReadaheadErr
	}
	return nil
}

func (f *Fake) Mtime(path string) (time.Time, error) {
	if t, ok := f.Mtimes[path]; ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("osprobetest: no mtime stubbed for %q", path)
}

// Start marks pid as running path, appending to Running unless already present.
func (f *Fake) Start(pid int, path string) {
	for _, rp := range f.Running {
		if rp.Pid == pid {
			return
		}
	}
	f.Running = append(f.Running, osprobe.RunningProc{Pid: pid, Path: path})
}

// Stop removes pid from Running.
func (f *Fake) Stop(pid int) {
	out := f.Running[:0]
	for _, rp := range f.Running {
		if rp.Pid != pid {
			out = append(out, rp)
		}
	}
	f.Running = out
}

// SetMaps stubs ListMaps(pid).
func (f *Fake) SetMaps(pid int, regions ...osprobe.MapRegion) {
	f.Maps[pid] = regions
}
