package model

import "math"

// Joint running state of a Markov pair (a, b), per §3 state table.
const (
	StateNeither = iota // a not running, b not running
	StateAOnly          // a running, b not running
	StateBOnly          // a not running, b running
	StateBoth           // a running, b running
)

// Markov models the joint running state of two distinct Exes as a
// continuous-time 4-state chain. Owned by the global edge arena
// (State.markovs); each endpoint Exe holds only this Markov's Seq.
type Markov struct {
	Seq uint64

	ASeq uint64
	BSeq uint64

	State           int
	ChangeTimestamp int64
	Time            float64 // cumulative time both ran jointly (state 3)

	TimeToLeave [4]float64    // running mean dwell time per state
	Weight      [4][4]float64 // off-diagonal: transition counts; diagonal: half-cycles observed in that state (§4.3)
}

// NewMarkov creates an edge between two distinct Exe seqs, starting in
// state 0 (neither running) at the given logical time.
func NewMarkov(seq, aSeq, bSeq uint64, now int64) (*Markov, error) {
	if aSeq == bSeq {
		return nil, ErrMarkovSelfPair
	}
	return &Markov{
		Seq:             seq,
		ASeq:            aSeq,
		BSeq:            bSeq,
		State:           StateNeither,
		ChangeTimestamp: now,
	}, nil
}

// OtherSeq returns the seq of the endpoint opposite exeSeq.
func (m *Markov) OtherSeq(exeSeq uint64) (uint64, bool) {
	switch exeSeq {
	case m.ASeq:
		return m.BSeq, true
	case m.BSeq:
		return m.ASeq, true
	default:
		return 0, false
	}
}

// JointState derives the §3 state-table value from two running flags.
func JointState(aRunning, bRunning bool) int {
	switch {
	case aRunning && bRunning:
		return StateBoth
	case aRunning:
		return StateAOnly
	case bRunning:
		return StateBOnly
	default:
		return StateNeither
	}
}

// AccumulateDwell folds a half-cycle's worth of time spent in the
// current state into TimeToLeave using the incremental-mean update
// from §4.3:
//
//	weight[s][s] += 1
//	ttl[s] += ((now - changeTimestamp) - ttl[s]) / weight[s][s]
func (m *Markov) AccumulateDwell(now int64) {
	s := m.State
	m.Weight[s][s]++
	dwell := float64(now - m.ChangeTimestamp)
	m.TimeToLeave[s] += (dwell - m.TimeToLeave[s]) / m.Weight[s][s]
}

// CorrelationEpsilon bounds the numerical slop P5 allows a Pearson
// correlation computed from accumulated dwell statistics to exceed
// the theoretical [-1, 1] range by.
const CorrelationEpsilon = 1e-6

// Correlation computes the Pearson correlation of two endpoints'
// running states from their cumulative running time and the edge's
// cumulative joint time, per §4.4:
//
//	corr = (t*joint - a*b) / sqrt(a*b*(t-a)*(t-b))
//
// Returns 0 whenever the denominator is non-positive, i.e. whenever
// either endpoint has run for none or all of t.
func Correlation(t, a, b, joint float64) float64 {
	denom := a * b * (t - a) * (t - b)
	if denom <= 0 {
		return 0
	}
	return (t*joint - a*b) / math.Sqrt(denom)
}

// Transition records a state change s -> s' at logical time now, per §4.3.
func (m *Markov) Transition(newState int, now int64) {
	if newState == m.State {
		return
	}
	m.Weight[m.State][newState]++
	m.State = newState
	m.ChangeTimestamp = now
}
