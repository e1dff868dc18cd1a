package model

import "sort"

// MemStat mirrors the probe's memory-statistics snapshot (§4.1), in bytes.
type MemStat struct {
	Total   int64
	Free    int64
	Cached  int64
	Buffers int64
}

// State is the global singleton aggregate: every tracked Exe, Map,
// Markov, and Family, plus the logical clock. It is never a
// process-wide global in this implementation — callers own an
// instance and pass it by pointer into every handler (§9).
type State struct {
	Time                     int64 // logical monotonic counter, advanced by the scheduler
	LastRunningTimestamp     int64
	LastAccountingTimestamp  int64

	Exes      map[string]*Exe // path -> Exe
	exesBySeq map[uint64]*Exe
	BadExes   map[string]int64 // path -> time last rejected

	maps    map[MapKey]*Map
	mapsBySeq map[uint64]*Map
	mapsArr []*Map // insertion order, for stable iteration/serialization

	markovs   map[uint64]*Markov
	markovsArr []*Markov

	RunningExes map[string]struct{} // subset of Exes.Path with RunningTimestamp >= 0

	Families     map[uint64]*Family
	ExeToFamily  map[string]uint64

	MemStat MemStat

	Dirty      bool
	ModelDirty bool

	nextMapSeq    uint64
	nextExeSeq    uint64
	nextMarkovSeq uint64
	nextFamilySeq uint64
}

// NewState returns an empty State ready for the seeder or a load.
func NewState() *State {
	return &State{
		Exes:        make(map[string]*Exe),
		exesBySeq:   make(map[uint64]*Exe),
		BadExes:     make(map[string]int64),
		maps:        make(map[MapKey]*Map),
		mapsBySeq:   make(map[uint64]*Map),
		markovs:     make(map[uint64]*Markov),
		RunningExes: make(map[string]struct{}),
		Families:    make(map[uint64]*Family),
		ExeToFamily: make(map[string]uint64),
	}
}

// MapBySeq resolves a Map by its stable id.
func (s *State) MapBySeq(seq uint64) (*Map, bool) {
	m, ok := s.mapsBySeq[seq]
	return m, ok
}

// MapsOrdered returns all registered maps in stable insertion order,
// for serialization (§4.5).
func (s *State) MapsOrdered() []*Map { return s.mapsArr }

// MarkovsOrdered returns all markov edges in stable insertion order.
func (s *State) MarkovsOrdered() []*Markov { return s.markovsArr }

// lookupOrCreateMap returns the Map for key, creating it (refcount 0,
// unregistered) if it doesn't exist yet.
func (s *State) lookupOrCreateMap(key MapKey, now int64) *Map {
	if m, ok := s.maps[key]; ok {
		return m
	}
	s.nextMapSeq++
	m := &Map{Seq: s.nextMapSeq, Key: key, UpdateTime: now}
	s.maps[key] = m
	s.mapsBySeq[m.Seq] = m
	s.mapsArr = append(s.mapsArr, m)
	return m
}

// AttachExeMap attaches (or refreshes) the association between exe and
// the map region described by key, creating the Map if this is its
// first observation anywhere (§4.2 step 4). Registration (refcount
// 0->1) happens here, maintaining invariants §3.1/§3.2.
func (s *State) AttachExeMap(exe *Exe, key MapKey, now int64) *ExeMap {
	m := s.lookupOrCreateMap(key, now)
	if em, ok := exe.ExeMaps[m.Seq]; ok {
		em.UpdateTime = now
		return em
	}
	if m.Refcount == 0 {
		m.UpdateTime = now
	}
	m.Refcount++
	em := &ExeMap{MapSeq: m.Seq, Prob: DefaultExeMapProb, UpdateTime: now}
	exe.ExeMaps[m.Seq] = em
	exe.Size += m.Length()
	return em
}

// detachExeMap releases exe's hold on mapSeq, decrementing refcount
// and reclaiming the arena slot at 0 (invariant §3.1/§3.2).
func (s *State) detachExeMap(exe *Exe, mapSeq uint64) {
	em, ok := exe.ExeMaps[mapSeq]
	if !ok {
		return
	}
	delete(exe.ExeMaps, mapSeq)
	if m, ok := s.mapsBySeq[mapSeq]; ok {
		exe.Size -= m.Length()
		m.Refcount--
		if m.Refcount <= 0 {
			s.destroyMap(m)
		}
	}
	_ = em
}

func (s *State) destroyMap(m *Map) {
	delete(s.maps, m.Key)
	delete(s.mapsBySeq, m.Seq)
	for i, mm := range s.mapsArr {
		if mm.Seq == m.Seq {
			s.mapsArr = append(s.mapsArr[:i], s.mapsArr[i+1:]...)
			break
		}
	}
}

// RegisterExe looks up an Exe by path, creating (and pairwise-linking
// against every existing Exe via a new Markov) it if unknown, per
// §4.2 step 3 and the Markov lifecycle in §3.
func (s *State) RegisterExe(path string, now int64, linkMarkovs bool) (*Exe, bool) {
	if e, ok := s.Exes[path]; ok {
		return e, false
	}
	s.nextExeSeq++
	e := NewExe(s.nextExeSeq, path, now)
	if linkMarkovs {
		for _, other := range s.Exes {
			s.linkMarkov(e, other, now)
		}
	}
	s.IndexExe(e)
	return e, true
}

// ObserveExeSeq advances the exe counter so a loaded id is never reissued.
func (s *State) ObserveExeSeq(seq uint64) {
	if seq > s.nextExeSeq {
		s.nextExeSeq = seq
	}
}

// IndexExe registers e under both its path and seq indexes, for use by
// the persistence loader which constructs Exes directly.
func (s *State) IndexExe(e *Exe) {
	s.Exes[e.Path] = e
	s.exesBySeq[e.Seq] = e
	s.ObserveExeSeq(e.Seq)
}

func (s *State) linkMarkov(a, b *Exe, now int64) {
	s.nextMarkovSeq++
	mk, err := NewMarkov(s.nextMarkovSeq, a.Seq, b.Seq, now)
	if err != nil {
		s.nextMarkovSeq--
		return
	}
	s.markovs[mk.Seq] = mk
	s.markovsArr = append(s.markovsArr, mk)
	a.Markovs[mk.Seq] = struct{}{}
	b.Markovs[mk.Seq] = struct{}{}
}

// InsertLoadedMarkov re-inserts a Markov reconstructed during a file
// load, preserving its serialized Seq (§9: seqs are reassignable on
// load, but within one load pass they must stay internally consistent).
func (s *State) InsertLoadedMarkov(mk *Markov) {
	if mk.Seq >= s.nextMarkovSeq {
		s.nextMarkovSeq = mk.Seq
	}
	s.markovs[mk.Seq] = mk
	s.markovsArr = append(s.markovsArr, mk)
	if a, ok := s.ExeBySeq(mk.ASeq); ok {
		a.Markovs[mk.Seq] = struct{}{}
	}
	if b, ok := s.ExeBySeq(mk.BSeq); ok {
		b.Markovs[mk.Seq] = struct{}{}
	}
}

// InsertLoadedMap re-inserts a Map reconstructed during a file load,
// preserving its serialized Seq and indexing it under its structural key.
func (s *State) InsertLoadedMap(m *Map) {
	if m.Seq >= s.nextMapSeq {
		s.nextMapSeq = m.Seq
	}
	s.maps[m.Key] = m
	s.mapsBySeq[m.Seq] = m
	s.mapsArr = append(s.mapsArr, m)
}

// InsertLoadedFamily re-inserts a Family reconstructed during a file load.
func (s *State) InsertLoadedFamily(f *Family) {
	if f.ID >= s.nextFamilySeq {
		s.nextFamilySeq = f.ID
	}
	s.Families[f.ID] = f
	for _, member := range f.Members {
		s.ExeToFamily[member] = f.ID
	}
}

// ExeBySeq resolves an Exe by its stable id.
func (s *State) ExeBySeq(seq uint64) (*Exe, bool) {
	e, ok := s.exesBySeq[seq]
	return e, ok
}

// DestroyExe removes an Exe entirely: releases every ExeMap (possibly
// reclaiming Maps) and every incident Markov (§3 Markov lifecycle:
// "destroyed when either endpoint is destroyed").
func (s *State) DestroyExe(path string) {
	e, ok := s.Exes[path]
	if !ok {
		return
	}
	for mapSeq := range e.ExeMaps {
		s.detachExeMap(e, mapSeq)
	}
	for markovSeq := range e.Markovs {
		s.destroyMarkov(markovSeq)
	}
	delete(s.Exes, path)
	delete(s.exesBySeq, e.Seq)
	delete(s.RunningExes, path)
}

func (s *State) destroyMarkov(seq uint64) {
	mk, ok := s.markovs[seq]
	if !ok {
		return
	}
	if a, ok := s.ExeBySeq(mk.ASeq); ok {
		delete(a.Markovs, seq)
	}
	if b, ok := s.ExeBySeq(mk.BSeq); ok {
		delete(b.Markovs, seq)
	}
	delete(s.markovs, seq)
	for i, m := range s.markovsArr {
		if m.Seq == seq {
			s.markovsArr = append(s.markovsArr[:i], s.markovsArr[i+1:]...)
			break
		}
	}
}

// MarkovBySeq resolves a Markov by its stable id.
func (s *State) MarkovBySeq(seq uint64) (*Markov, bool) {
	m, ok := s.markovs[seq]
	return m, ok
}

// NextFamilySeq allocates and returns the next family id.
func (s *State) NextFamilySeq() uint64 {
	s.nextFamilySeq++
	return s.nextFamilySeq
}

// ObserveFamilySeq advances the family counter so a loaded id is never reissued.
func (s *State) ObserveFamilySeq(id uint64) {
	if id > s.nextFamilySeq {
		s.nextFamilySeq = id
	}
}

// RunningExesSorted returns the running subset's paths in sorted order,
// for deterministic iteration (scanner/updater/predictor all want this
// so tests are reproducible; invariant §3.6 only requires duplicate-free).
func (s *State) RunningExesSorted() []string {
	out := make([]string, 0, len(s.RunningExes))
	for p := range s.RunningExes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// CheckInvariants validates P1-P3 and the single-snapshot-checkable
// parts of P4-P5 from spec.md §8, returning the first violation found
// wrapped as KindFatalInternal.
func (s *State) CheckInvariants() error {
	refc := make(map[uint64]int)
	for _, e := range s.Exes {
		var size int64
		for seq, em := range e.ExeMaps {
			m, ok := s.mapsBySeq[seq]
			if !ok {
				return Wrap(KindFatalInternal, ErrUnknownMap)
			}
			refc[seq]++
			size += m.Length()
			_ = em
		}
		if size != e.Size {
			return Wrap(KindFatalInternal, ErrInvariantViolation)
		}
	}
	for _, m := range s.mapsArr {
		if m.Refcount != refc[m.Seq] {
			return Wrap(KindFatalInternal, ErrInvariantViolation)
		}
		if m.Refcount <= 0 {
			return Wrap(KindFatalInternal, ErrInvariantViolation)
		}
	}
	for _, mk := range s.markovsArr {
		a, aok := s.ExeBySeq(mk.ASeq)
		b, bok := s.ExeBySeq(mk.BSeq)
		if !aok || !bok {
			return Wrap(KindFatalInternal, ErrInvariantViolation)
		}
		if _, ok := a.Markovs[mk.Seq]; !ok {
			return Wrap(KindFatalInternal, ErrInvariantViolation)
		}
		if _, ok := b.Markovs[mk.Seq]; !ok {
			return Wrap(KindFatalInternal, ErrInvariantViolation)
		}
		for _, ttl := range mk.TimeToLeave {
			if ttl < 0 {
				return Wrap(KindFatalInternal, ErrInvariantViolation)
			}
		}
		corr := Correlation(float64(s.Time), a.Time, b.Time, mk.Time)
		if corr < -1-CorrelationEpsilon || corr > 1+CorrelationEpsilon {
			return Wrap(KindFatalInternal, ErrInvariantViolation)
		}
	}
	return nil
}
