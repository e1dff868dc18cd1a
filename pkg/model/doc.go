// Package model defines the in-memory objects tracked by the preload
// daemon: file regions (Map), the executables that touch them (Exe),
// the probability edges between the two (ExeMap), and the pairwise
// Markov correlation between executables (Markov).
//
// Everything in this package is owned by a single State aggregate
// (state.go) and is mutated exclusively from the scheduler goroutine;
// nothing here is safe for concurrent use without that external
// serialization.
//
// Ownership summary:
//   - Map: owned by State.maps (the arena); ExeMap holds only a seq reference.
//   - ExeMap: owned exclusively by its Exe.
//   - Markov: owned by State.markovs (the edge arena); each Exe holds
//     only the seq of the edges incident on it.
//   - Exe: owned by State.Exes, keyed by absolute path.
package model
