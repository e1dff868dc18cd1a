package model

// MapKey is the structural identity of a Map: two maps with the same
// triple are the same map (invariant §3).
type MapKey struct {
	Path   string
	Offset int64
	Length int64
}

// Map is a file region (path, offset, length). It is owned by the
// global map table (State.maps); ExeMaps hold only its Seq.
type Map struct {
	Seq        uint64
	Key        MapKey
	UpdateTime int64
	Refcount   int
}

func (m *Map) Path() string   { return m.Key.Path }
func (m *Map) Offset() int64  { return m.Key.Offset }
func (m *Map) Length() int64  { return m.Key.Length }

// Registered reports whether this Map is currently owned by at least
// one ExeMap (invariant §3.1).
func (m *Map) Registered() bool { return m.Refcount > 0 }
