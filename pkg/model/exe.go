package model

// Pool classifies how aggressively an Exe is treated by the predictor.
type Pool int

const (
	// PoolObservation exes are tracked but never preloaded.
	PoolObservation Pool = iota
	// PoolPriority exes are eligible for aggressive preload and session boost.
	PoolPriority
)

func (p Pool) String() string {
	if p == PoolPriority {
		return "priority"
	}
	return "observation"
}

// ParsePool maps a persisted/legacy string onto a Pool, defaulting to
// observation for anything unrecognized (§4.5: "missing columns default").
func ParsePool(s string) Pool {
	if s == "priority" {
		return PoolPriority
	}
	return PoolObservation
}

// RunningInfo tracks a single live run of an Exe under a given pid.
type RunningInfo struct {
	Pid       int
	StartTime int64
}

// LaunchDecay is the half-life-style decay applied to WeightedLaunches
// on every new launch, per original_source/src/state/state.c: each
// launch contributes 1.0 and prior weight decays by this factor first.
// See SPEC_FULL.md "Supplemented features" #2.
const LaunchDecay = 0.96

// Exe is a tracked executable identified by its absolute path.
type Exe struct {
	Seq    uint64
	Path   string
	Size   int64
	Time   float64 // cumulative seconds ever observed running
	PoolOf Pool

	UpdateTime      int64
	ChangeTimestamp int64 // last running<->not-running edge
	RunningTimestamp int64 // start of current run, or -1 when not running

	WeightedLaunches float64
	RawLaunches      uint64
	TotalDurationSec uint64

	RunningPids map[int]*RunningInfo
	ExeMaps     map[uint64]*ExeMap // keyed by Map.Seq
	Markovs     map[uint64]struct{} // set of Markov.Seq incident on this Exe
}

// NewExe creates an Exe not currently running.
func NewExe(seq uint64, path string, now int64) *Exe {
	return &Exe{
		Seq:              seq,
		Path:             path,
		PoolOf:           PoolObservation,
		UpdateTime:       now,
		ChangeTimestamp:  now,
		RunningTimestamp: -1,
		RunningPids:      make(map[int]*RunningInfo),
		ExeMaps:          make(map[uint64]*ExeMap),
		Markovs:          make(map[uint64]struct{}),
	}
}

// IsRunning reports whether the Exe currently has an active run.
func (e *Exe) IsRunning() bool { return e.RunningTimestamp >= 0 }

// RecalcSize recomputes Size as the sum of exemap map lengths, given a
// lookup from map seq to Map (invariant §3.4). Callers own locating
// the Maps; this keeps model free of a dependency on the arena type.
func (e *Exe) RecalcSize(lookup func(seq uint64) (*Map, bool)) {
	var total int64
	for seq := range e.ExeMaps {
		if m, ok := lookup(seq); ok {
			total += m.Length()
		}
	}
	e.Size = total
}

// RecordLaunch applies the launch-weight decay and increments raw
// launch count. now is the logical State.time at the moment the Exe
// transitions not-running -> running.
func (e *Exe) RecordLaunch(now int64) {
	e.WeightedLaunches = e.WeightedLaunches*LaunchDecay + 1.0
	e.RawLaunches++
	e.ChangeTimestamp = now
	e.RunningTimestamp = now
}

// RecordStop ends the current run, folding its duration into
// TotalDurationSec, per §4.2 step 5.
func (e *Exe) RecordStop(now int64) {
	if e.RunningTimestamp >= 0 {
		d := now - e.RunningTimestamp
		if d > 0 {
			e.TotalDurationSec += uint64(d)
		}
	}
	e.ChangeTimestamp = now
	e.RunningTimestamp = -1
}
