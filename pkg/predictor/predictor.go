// Package predictor implements tick phase 1b (§4.4), run in tick_a
// right after the scanner: scoring every
// tracked Exe's probability of running soon, aggregating that into a
// per-Map utility score, selecting a memory-budget-constrained
// candidate set, and dispatching readahead hints for it.
package predictor

import (
	"context"
	"math"
	"sort"

	"github.com/kpreload/preloadd/pkg/config"
	"github.com/kpreload/preloadd/pkg/model"
	"github.com/kpreload/preloadd/pkg/osprobe"
)

// Session describes the session-boot boosting window (§4.4, supplemented
// feature #1): exes ranked in the top N by weighted launches are
// boosted while now is still inside the window opened at Start.
type Session struct {
	Start  int64
	Active bool
	TopN   int
}

// candidate is one Map scored for this tick, carrying enough to both
// rank it and dispatch a readahead for it.
type candidate struct {
	region osprobe.MapRegion
	score  float64
}

// ExeProbability estimates the chance exe will run again soon, per
// §4.4 steps 1-2: the strongest Pearson correlation against any
// currently-running correlated Exe, plus pool/manual/session boosts,
// clamped to [0,1].
func ExeProbability(s *model.State, exe *model.Exe, cfg *config.Config, manual bool, sess Session, rank int) float64 {
	var p float64
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
		if !ok || !other.IsRunning() {
			continue
		}
		if c := correlation(s, mk); c > p {
			p = c
		}
	}
	if exe.PoolOf == model.PoolPriority {
		p += cfg.Model.PriorityBoost
	}
	if manual {
		p += cfg.Model.ManualAppBoost
	}
	if sess.Active && rank >= 0 && rank < sess.TopN {
		p *= cfg.Model.SessionBootBoost
	}
	return clamp01(p)
}

// correlation computes the Pearson correlation of the two endpoints'
// running states over the edge's observed lifetime (§4.4 step 1),
// using mk.Time as the cumulative joint-running total accrued by the
// updater whenever the edge sits in state 3 (§4.3).
func correlation(s *model.State, mk *model.Markov) float64 {
	a, aok := s.ExeBySeq(mk.ASeq)
	b, bok := s.ExeBySeq(mk.BSeq)
	if !aok || !bok {
		return 0
	}
	return model.Correlation(float64(s.Time), a.Time, b.Time, mk.Time)
}

// MapScores aggregates each candidate Map's utility as the capped sum
// of contributing Exes' probability * usage-probability (§4.4 step 3,
// Open Question 1: sum capped at 1.0 rather than noisy-OR).
func MapScores(s *model.State, cfg *config.Config, manualApps map[string]bool, sess Session) map[uint64]float64 {
	ranked := rankByWeightedLaunches(s)

	scores := make(map[uint64]float64)
	for _, exe := range s.Exes {
		p := ExeProbability(s, exe, cfg, manualApps[exe.Path], sess, ranked[exe.Path])
		if p < cfg.Model.PredictThreshold {
			continue
		}
		for mapSeq, em := range exe.ExeMaps {
			scores[mapSeq] = math.Min(1.0, scores[mapSeq]+p*em.Prob)
		}
	}
	return scores
}

func rankByWeightedLaunches(s *model.State) map[string]int {
	paths := make([]string, 0, len(s.Exes))
	for path := range s.Exes {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		return s.Exes[paths[i]].WeightedLaunches > s.Exes[paths[j]].WeightedLaunches
	})
	rank := make(map[string]int, len(paths))
	for i, path := range paths {
		rank[path] = i
	}
	return rank
}

// SelectCandidates ranks scored maps by cfg.System.SortStrategy and
// greedily accepts them under budget bytes, per §4.4 step 4.
func SelectCandidates(s *model.State, scores map[uint64]float64, cfg *config.Config, budget int64) []osprobe.MapRegion {
	cands := make([]candidate, 0, len(scores))
	for seq, score := range scores {
		m, ok := s.MapBySeq(seq)
		if !ok {
			continue
		}
		cands = append(cands, candidate{
			region: osprobe.MapRegion{Path: m.Path(), Offset: m.Offset(), Length: m.Length()},
			score:  score,
		})
	}

	sort.Slice(cands, func(i, j int) bool {
		return sortKey(cands[i], cfg.System.SortStrategy) > sortKey(cands[j], cfg.System.SortStrategy)
	})

	var used int64
	out := make([]osprobe.MapRegion, 0, len(cands))
	for _, c := range cands {
		if used+c.region.Length > budget {
			continue
		}
		used += c.region.Length
		out = append(out, c.region)
	}
	return out
}

func sortKey(c candidate, strategy config.SortStrategy) float64 {
	switch strategy {
	case config.SortBySize:
		return float64(c.region.Length)
	case config.SortByProbability:
		return c.score
	default: // density: expected bytes touched (score*length) per byte of the map
		return c.score
	}
}

// Dispatch issues a readahead hint for each selected region, skipping
// (not aborting on) any individual failure, per §4.1/§7: a probe
// failure on one region never blocks the rest of the tick's dispatch.
func Dispatch(ctx context.Context, probe osprobe.Probe, regions []osprobe.MapRegion) int {
	dispatched := 0
	for _, r := range regions {
		if err := probe.Readahead(ctx, r.Path, r.Offset, r.Length); err != nil {
			continue
		}
		dispatched++
	}
	return dispatched
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
