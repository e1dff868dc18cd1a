// Package updater implements tick phase 2 (§4.3): folding the elapsed
// half-cycle into every running Exe's cumulative time and into every
// Markov edge's dwell-time statistics.
package updater

import "github.com/kpreload/preloadd/pkg/model"

// Update advances s by one half-cycle (cycleSeconds/2, per §4.2's
// scan-then-wait-half-then-update split), accumulating running Exes'
// Time, every Markov edge's TimeToLeave for the state it is currently
// in, and (§4.3) each edge's Time whenever that state is StateBoth —
// the joint-running total the predictor's correlation term reads.
func Update(s *model.State, halfCycleSeconds float64) {
	for path := range s.RunningExes {
		exe, ok := s.Exes[path]
		if !ok {
			continue
		}
		exe.Time += halfCycleSeconds
	}

	s.Time += int64(halfCycleSeconds)

	for _, mk := range s.MarkovsOrdered() {
		mk.AccumulateDwell(s.Time)
		if mk.State == model.StateBoth {
			mk.Time += halfCycleSeconds
		}
	}

	s.LastAccountingTimestamp = s.Time
	s.ModelDirty = true
}
