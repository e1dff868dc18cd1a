//go:build linux

// Package linux implements osprobe.Probe against /proc and the
// readahead(2)/posix_fadvise(2) syscalls. Process/host-memory
// discovery is delegated to gopsutil where it already does the
// portable, well-tested thing; the maps listing is hand-rolled
// against /proc/<pid>/maps the way the teacher package parses
// /proc/<pid>/stat (bufio.Scanner, one sentinel error per failure
// mode) because gopsutil's MemoryMaps helper does not expose the raw
// (path, offset, length) triples this daemon needs.
package linux

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"github.com/kpreload/preloadd/pkg/osprobe"
)

// Probe is the Linux implementation of osprobe.Probe.
type Probe struct{}

// New returns a ready-to-use Linux Probe.
func New() *Probe { return &Probe{} }

// EnumerateRunning lists running processes via gopsutil, resolving
// each to its absolute executable path and silently skipping kernel
// threads and processes whose exe we can no longer read (they may
// have exited, or be permission-denied) — both are expected steady
// state, not errors (§4.1: "may omit ... unreadable entries").
func (p *Probe) EnumerateRunning(ctx context.Context) ([]osprobe.RunningProc, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("osprobe: enumerate pids: %w", err)
	}
	out := make([]osprobe.RunningProc, 0, len(pids))
	for _, pid := range pids {
		path, err := exePath(pid)
		if err != nil {
			continue
		}
		out = append(out, osprobe.RunningProc{Pid: int(pid), Path: path})
	}
	return out, nil
}

// exePath resolves /proc/<pid>/exe, returning an error for kernel
// threads (which have no exe link) and exited/denied processes alike.
func exePath(pid int32) (string, error) {
	link := fmt.Sprintf("/proc/%d/exe", pid)
	target, err := os.Readlink(link)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(target, " (deleted)") {
		target = strings.TrimSuffix(target, " (deleted)")
	}
	if target == "" {
		return "", fmt.Errorf("osprobe: empty exe target for pid %d", pid)
	}
	return target, nil
}

// ListMaps parses /proc/<pid>/maps for file-backed mappings. Lines for
// anonymous/stack/heap regions (no path field) are skipped.
func (p *Probe) ListMaps(ctx context.Context, pid int) ([]osprobe.MapRegion, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("osprobe: open maps: %w", err)
	}
	defer f.Close()

	var regions []osprobe.MapRegion
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return regions, ctx.Err()
		default:
		}
		region, ok := parseMapsLine(sc.Text())
		if ok {
			regions = append(regions, region)
		}
	}
	if err := sc.Err(); err != nil {
		return regions, fmt.Errorf("osprobe: scan maps: %w", err)
	}
	return regions, nil
}

// parseMapsLine parses one /proc/<pid>/maps line:
//
//	<start>-<end> <perms> <offset> <dev> <inode>  <pathname>
//
// Only lines with an absolute pathname (not "[heap]", "[stack]", or
// blank) describe a file-backed region we can read ahead.
func parseMapsLine(line string) (osprobe.MapRegion, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return osprobe.MapRegion{}, false
	}
	pathname := strings.Join(fields[5:], " ")
	if pathname == "" || pathname[0] != '/' {
		return osprobe.MapRegion{}, false
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return osprobe.MapRegion{}, false
	}
	start, err := strconv.ParseInt(addrs[0], 16, 64)
	if err != nil {
		return osprobe.MapRegion{}, false
	}
	end, err := strconv.ParseInt(addrs[1], 16, 64)
	if err != nil {
		return osprobe.MapRegion{}, false
	}
	offset, err := strconv.ParseInt(fields[2], 16, 64)
	if err != nil {
		return osprobe.MapRegion{}, false
	}

	return osprobe.MapRegion{Path: pathname, Offset: offset, Length: end - start}, true
}

// MemStat reports host memory statistics via gopsutil.
func (p *Probe) MemStat(ctx context.Context) (osprobe.MemStat, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return osprobe.MemStat{}, fmt.Errorf("osprobe: memstat: %w", err)
	}
	return osprobe.MemStat{
		Total:   int64(vm.Total),
		Free:    int64(vm.Free),
		Cached:  int64(vm.Cached),
		Buffers: int64(vm.Buffers),
	}, nil
}

// Readahead issues readahead(2) for the region, falling back to
// posix_fadvise(POSIX_FADV_WILLNEED) if the kernel or filesystem
// doesn't support readahead on this path.
func (p *Probe) Readahead(ctx context.Context, path string, offset, length int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("osprobe: open for readahead: %w", err)
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.Readahead(fd, offset, int(length)); err == nil {
		return nil
	}
	if err := unix.Fadvise(fd, offset, length, unix.FADV_WILLNEED); err != nil {
		return fmt.Errorf("osprobe: readahead+fadvise both failed: %w", err)
	}
	return nil
}

// Mtime returns path's modification time.
func (p *Probe) Mtime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("osprobe: stat: %w", err)
	}
	return fi.ModTime(), nil
}
