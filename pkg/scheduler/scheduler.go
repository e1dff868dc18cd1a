// Package scheduler drives the daemon's cooperative tick loop (§4.6):
// one goroutine alternates scan+predict (tick_a), the half-cycle-later
// update (tick_b), and a periodic autosave, with control-surface verbs
// (§4.8) serialized through the same loop rather than touching State
// from another goroutine.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kpreload/preloadd/pkg/blacklist"
	"github.com/kpreload/preloadd/pkg/config"
	"github.com/kpreload/preloadd/pkg/logging"
	"github.com/kpreload/preloadd/pkg/metrics"
	"github.com/kpreload/preloadd/pkg/model"
	"github.com/kpreload/preloadd/pkg/osprobe"
	"github.com/kpreload/preloadd/pkg/pausefile"
	"github.com/kpreload/preloadd/pkg/persist"
	"github.com/kpreload/preloadd/pkg/predictor"
	"github.com/kpreload/preloadd/pkg/scanner"
	"github.com/kpreload/preloadd/pkg/updater"
)

// command is a control-surface closure (§4.8: reload/dump/save/pause/
// resume/stop), run on the scheduler goroutine between ticks so it
// never races State mutation from the tick itself.
type command struct {
	fn   func(*Scheduler) error
	done chan error
}

// Scheduler owns the single State instance and drives it through ticks.
type Scheduler struct {
	State     *model.State
	Probe     osprobe.Probe
	Cfg       *config.Config
	Blacklist *blacklist.List
	Metrics   *metrics.Registry
	Log       *slog.Logger
	Logging   *logging.Logger // reopenable log target backing Log; nil if the caller didn't wire one

	StatePath     string
	PauseFilePath string

	commands  chan command
	session   predictor.Session
	halfCycle time.Duration // tick_a's share of the cycle, per §4.6
}

// New constructs a Scheduler. Callers own loading/seeding State before
// passing it in. lg may be nil (e.g. in tests using a bare slog.Logger);
// when nil, the reload control verb skips log rotation.
func New(s *model.State, probe osprobe.Probe, cfg *config.Config, bl *blacklist.List, m *metrics.Registry, log *slog.Logger, lg *logging.Logger, statePath, pauseFilePath string) *Scheduler {
	return &Scheduler{
		State:         s,
		Probe:         probe,
		Cfg:           cfg,
		Blacklist:     bl,
		Metrics:       m,
		Log:           log,
		Logging:       lg,
		StatePath:     statePath,
		PauseFilePath: pauseFilePath,
		commands:      make(chan command),
		session:       predictor.Session{Start: s.Time, Active: true, TopN: cfg.Model.SessionBootTopN},
	}
}

// Submit enqueues a control-surface closure and blocks until it has
// run on the scheduler goroutine, returning its error. fn receives the
// Scheduler itself so control verbs can touch Cfg/Blacklist as well as
// State, all still serialized against the tick loop.
func (sc *Scheduler) Submit(ctx context.Context, fn func(*Scheduler) error) error {
	done := make(chan error, 1)
	select {
	case sc.commands <- command{fn: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the tick loop until ctx is cancelled, returning nil on
// clean shutdown.
func (sc *Scheduler) Run(ctx context.Context) error {
	cycle := sc.Cfg.Model.Cycle
	if cycle <= 0 {
		cycle = config.Default().Model.Cycle
	}
	sc.halfCycle = cycle / 2
	halfB := cycle - sc.halfCycle.Truncate(time.Second) // tick_b's complementary share, (cycle+1)/2 when cycle is odd

	tickA := time.NewTicker(cycle)
	defer tickA.Stop()
	tickB := time.NewTicker(cycle)
	defer tickB.Stop()
	autosave := time.NewTicker(sc.Cfg.System.Autosave)
	defer autosave.Stop()

	// tick_b fires half a cycle out of phase with tick_a.
	time.AfterFunc(sc.halfCycle, func() { tickB.Reset(cycle) })

	for {
		select {
		case <-ctx.Done():
			return sc.saveIfDirty()

		case cmd := <-sc.commands:
			cmd.done <- cmd.fn(sc)

		case <-tickA.C:
			sc.runTickA(ctx)

		case <-tickB.C:
			updater.Update(sc.State, halfB.Seconds())

		case <-autosave.C:
			if err := sc.saveIfDirty(); err != nil {
				sc.Log.Error("autosave failed", "err", err)
			}
		}
	}
}

// runTickA is tick_a (§4.6): it always advances the logical clock by
// half a cycle and runs the scanner (if doscan); only the predictor
// half is skipped while paused.
func (sc *Scheduler) runTickA(ctx context.Context) {
	start := time.Now()
	defer func() {
		if sc.Metrics != nil {
			sc.Metrics.TickDuration.WithLabelValues("scan_predict").Observe(time.Since(start).Seconds())
		}
	}()

	sc.State.Time += int64(sc.halfCycle.Seconds())

	if sc.Cfg.System.DoScan {
		if _, err := sc.Blacklist.ReloadIfChanged(); err != nil {
			sc.Log.Warn("blacklist reload failed", "err", err)
		}
		if err := scanner.Scan(ctx, sc.State, sc.Probe, sc.Cfg, sc.Blacklist); err != nil {
			sc.Log.Warn("scan failed", "err", err)
			return
		}
	}

	if sc.Metrics != nil {
		sc.Metrics.ScanExes.Set(float64(len(sc.State.Exes)))
		sc.Metrics.ScanMaps.Set(float64(len(sc.State.MapsOrdered())))
	}

	if !sc.Cfg.System.DoPredict {
		return
	}

	paused, err := pausefile.Active(sc.PauseFilePath, time.Now())
	if err != nil {
		sc.Log.Warn("pause file check failed", "err", err)
	}
	if paused {
		return
	}

	sc.session.Active = sc.session.Start >= 0 && time.Duration(sc.State.Time-sc.session.Start)*time.Second < sc.Cfg.Model.SessionBootWindow
	manual := make(map[string]bool, len(sc.Cfg.System.ManualApps))
	for _, p := range sc.Cfg.System.ManualApps {
		manual[p] = true
	}

	mem, err := sc.Probe.MemStat(ctx)
	if err != nil {
		sc.Log.Warn("memstat unavailable, skipping predict", "err", err)
		return
	}
	budget := sc.Cfg.Model.MemoryBudget(mem.Total, mem.Free, mem.Cached)

	scores := predictor.MapScores(sc.State, sc.Cfg, manual, sc.session)
	candidates := predictor.SelectCandidates(sc.State, scores, sc.Cfg, budget)
	if sc.Metrics != nil {
		var total int64
		for _, c := range candidates {
			total += c.Length
		}
		sc.Metrics.CandidatesBytes.Set(float64(total))
	}

	dispatched := predictor.Dispatch(ctx, sc.Probe, candidates)
	if sc.Metrics != nil {
		sc.Metrics.ReadaheadTotal.WithLabelValues("ok").Add(float64(dispatched))
		sc.Metrics.ReadaheadTotal.WithLabelValues("failed").Add(float64(len(candidates) - dispatched))
	}
}

func (sc *Scheduler) saveIfDirty() error {
	if !sc.State.Dirty && !sc.State.ModelDirty {
		return nil
	}
	start := time.Now()
	err := persist.Save(sc.State, sc.StatePath)
	if sc.Metrics != nil {
		sc.Metrics.SaveDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			sc.Metrics.SaveErrors.Inc()
		}
	}
	if err == nil {
		sc.State.ModelDirty = false
	}
	return err
}
