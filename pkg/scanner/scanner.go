// Package scanner implements tick phase 1a (§4.2): sampling running
// processes, attributing their mappings to tracked Exes, and flipping
// running/not-running edges that drive the Markov state machine.
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kpreload/preloadd/pkg/blacklist"
	"github.com/kpreload/preloadd/pkg/config"
	"github.com/kpreload/preloadd/pkg/model"
	"github.com/kpreload/preloadd/pkg/osprobe"
)

// Scan runs one full scanner pass over s, per §4.2 steps 1-7.
func Scan(ctx context.Context, s *model.State, probe osprobe.Probe, cfg *config.Config, bl *blacklist.List) error {
	procs, err := probe.EnumerateRunning(ctx)
	if err != nil {
		return model.Wrap(model.KindProbeUnavailable, err)
	}
	if len(procs) > cfg.System.MaxProcs {
		procs = procs[:cfg.System.MaxProcs]
	}

	runningNow := make(map[string]int, len(procs))
	for _, p := range procs {
		if !matchesAnyPrefix(p.Path, cfg.System.ExePrefix) {
			continue
		}
		base := filepath.Base(p.Path)
		if bl != nil && bl.Contains(base) {
			continue
		}
		if tooSmall(p.Path, cfg.Model.MinSize) {
			s.BadExes[p.Path] = s.Time
			continue
		}
		runningNow[p.Path] = p.Pid
	}

	for path, pid := range runningNow {
		exe, created := s.RegisterExe(path, s.Time, cfg.Model.UseCorrelation)
		if created {
			delete(s.BadExes, path)
		}
		exe.RunningPids[pid] = &model.RunningInfo{Pid: pid, StartTime: s.Time}

		regions, err := probe.ListMaps(ctx, pid)
		if err != nil {
			// path_denied: skip attribution for this exe this tick, keep scanning others.
			continue
		}
		for _, r := range regions {
			if !matchesAnyPrefix(r.Path, cfg.System.MapPrefix) {
				continue
			}
			key := model.MapKey{Path: r.Path, Offset: r.Offset, Length: r.Length}
			s.AttachExeMap(exe, key, s.Time)
		}
	}

	started := make(map[string]struct{})
	for path := range runningNow {
		if _, already := s.RunningExes[path]; !already {
			started[path] = struct{}{}
		}
	}
	stopped := make(map[string]struct{})
	for path := range s.RunningExes {
		if _, stillRunning := runningNow[path]; !stillRunning {
			stopped[path] = struct{}{}
		}
	}

	changed := make(map[string]struct{}, len(started)+len(stopped))
	for path := range started {
		exe := s.Exes[path]
		exe.RecordLaunch(s.Time)
		changed[path] = struct{}{}
	}
	for path := range stopped {
		exe := s.Exes[path]
		if exe == nil {
			continue
		}
		exe.RecordStop(s.Time)
		for pid := range exe.RunningPids {
			delete(exe.RunningPids, pid)
		}
		changed[path] = struct{}{}
	}

	for path := range changed {
		exe := s.Exes[path]
		if exe == nil {
			continue
		}
		applyMarkovTransitions(s, exe)
	}

	s.RunningExes = make(map[string]struct{}, len(runningNow))
	for path := range runningNow {
		s.RunningExes[path] = struct{}{}
	}

	s.Dirty = true
	s.ModelDirty = true
	return nil
}

// applyMarkovTransitions walks every Markov incident on exe and moves
// it to the joint state implied by both endpoints' current running
// status (§4.2 step 6).
func applyMarkovTransitions(s *model.State, exe *model.Exe) {
	for seq := range exe.Markovs {
		mk, ok := s.MarkovBySeq(seq)
		if !ok {
			continue
		}
		otherSeq, ok := mk.OtherSeq(exe.Seq)
		if !ok {
			continue
		}
		other, ok := s.ExeBySeq(otherSeq)
		if !ok {
			continue
		}
		aRunning, bRunning := exe.IsRunning(), other.IsRunning()
		if mk.ASeq != exe.Seq {
			aRunning, bRunning = bRunning, aRunning
		}
		mk.Transition(model.JointState(aRunning, bRunning), s.Time)
	}
}

func matchesAnyPrefix(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func tooSmall(path string, minSize int64) bool {
	if minSize <= 0 {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return true // unreadable is as bad as too small: skip it this tick
	}
	return fi.Size() < minSize
}
