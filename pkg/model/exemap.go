package model

// ExeMap associates an Exe with a Map it touches, carrying the
// probability that the map is used whenever the Exe runs. Owned
// exclusively by its Exe; the Map itself lives in the shared arena.
type ExeMap struct {
	MapSeq     uint64
	Prob       float64
	UpdateTime int64
}

// DefaultExeMapProb is the initial usage probability assigned when an
// Exe is first observed touching a Map (§3: "initial 1.0").
const DefaultExeMapProb = 1.0
