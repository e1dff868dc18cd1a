// Package control implements the daemon's six control-surface verbs
// (§4.8: reload, dump, save, pause, resume, stop), each run as a
// closure submitted to the scheduler so it is serialized against the
// tick loop rather than racing it. Reload, Dump, Save and Stop are
// reached over the signal contract documented by cmd/preload-ctl, not a
// bespoke RPC protocol; no signal is mapped to Pause or Resume. Dump tags each request with an opaque, never-persisted
// correlation id purely for log correlation.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/kpreload/preloadd/pkg/blacklist"
	"github.com/kpreload/preloadd/pkg/config"
	"github.com/kpreload/preloadd/pkg/pausefile"
	"github.com/kpreload/preloadd/pkg/persist"
	"github.com/kpreload/preloadd/pkg/scheduler"
	"github.com/kpreload/preloadd/pkg/seeder"
)

// Reload re-parses the config file, reloads the blacklist, promotes
// any newly manual-listed exes to the priority pool, and rotates the
// log file, per §4.8's four documented reload effects.
func Reload(ctx context.Context, sc *scheduler.Scheduler, configPath, blacklistPath string) error {
	return sc.Submit(ctx, func(s *scheduler.Scheduler) error {
		if configPath != "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("control: reload config: %w", err)
			}
			*s.Cfg = *cfg
		}
		if blacklistPath != "" {
			bl, err := blacklist.Load(blacklistPath)
			if err != nil {
				return fmt.Errorf("control: reload blacklist: %w", err)
			}
			*s.Blacklist = *bl
		}
		seeder.RegisterManualApps(s.State, s.Cfg, s.State.Time)
		if s.Logging != nil {
			if err := s.Logging.Reopen(); err != nil {
				return fmt.Errorf("control: reopen log: %w", err)
			}
		}
		return nil
	})
}

// DumpResult is the JSON shape written by Dump, a point-in-time
// summary of tracked state for operator inspection.
type DumpResult struct {
	RequestID  string   `json:"request_id"`
	Time       int64    `json:"time"`
	ExeCount   int      `json:"exe_count"`
	MapCount   int      `json:"map_count"`
	Running    []string `json:"running"`
	MarkovEdge int      `json:"markov_edges"`
}

// Dump writes a JSON snapshot of the tracked model to w, tagged with a
// fresh request id for log correlation (never persisted to disk
// alongside the actual model state).
func Dump(ctx context.Context, sc *scheduler.Scheduler, w *os.File) error {
	reqID := uuid.NewString()
	return sc.Submit(ctx, func(s *scheduler.Scheduler) error {
		result := DumpResult{
			RequestID:  reqID,
			Time:       s.State.Time,
			ExeCount:   len(s.State.Exes),
			MapCount:   len(s.State.MapsOrdered()),
			Running:    s.State.RunningExesSorted(),
			MarkovEdge: len(s.State.MarkovsOrdered()),
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	})
}

// Save forces an immediate persist of the current model, regardless of
// the dirty flag.
func Save(ctx context.Context, sc *scheduler.Scheduler) error {
	return sc.Submit(ctx, func(s *scheduler.Scheduler) error {
		return persist.Save(s.State, s.StatePath)
	})
}

// Pause writes the pause file so subsequent ticks skip predicting
// (scanning still runs) until it expires or Resume clears it (§4.6,
// §4.8, §8 P9).
func Pause(ctx context.Context, sc *scheduler.Scheduler, expiry int64) error {
	return sc.Submit(ctx, func(s *scheduler.Scheduler) error {
		return pausefile.Write(s.PauseFilePath, expiry)
	})
}

// Resume clears any active pause.
func Resume(ctx context.Context, sc *scheduler.Scheduler) error {
	return sc.Submit(ctx, func(s *scheduler.Scheduler) error {
		return pausefile.Clear(s.PauseFilePath)
	})
}

// Stop persists any dirty model and signals the caller is clear to
// cancel the scheduler's context; it does not itself stop the loop
// (§4.8: stop is "save then let the process exit"), that's the
// daemon's signal handler's job once this returns.
func Stop(ctx context.Context, sc *scheduler.Scheduler) error {
	return sc.Submit(ctx, func(s *scheduler.Scheduler) error {
		if !s.State.Dirty && !s.State.ModelDirty {
			return nil
		}
		return persist.Save(s.State, s.StatePath)
	})
}
