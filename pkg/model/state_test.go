package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachExeMap_RegistersAndRefcounts(t *testing.T) {
	s := NewState()
	exe, created := s.RegisterExe("/usr/bin/cat", 0, false)
	require.True(t, created)

	key := MapKey{Path: "/lib/libc.so.6", Offset: 0, Length: 2 << 20}
	em := s.AttachExeMap(exe, key, 10)
	require.NotNil(t, em)

	m, ok := s.MapBySeq(em.MapSeq)
	require.True(t, ok)
	assert.Equal(t, 1, m.Refcount)
	assert.Equal(t, key.Length, exe.Size)

	// Attaching the same region to a second exe bumps refcount, doesn't duplicate the Map.
	other, _ := s.RegisterExe("/usr/bin/tac", 0, false)
	s.AttachExeMap(other, key, 11)
	assert.Equal(t, 2, m.Refcount)
	assert.Len(t, s.MapsOrdered(), 1)

	require.NoError(t, s.CheckInvariants())
}

func TestDestroyExe_ReclaimsMapAtZeroRefcount(t *testing.T) {
	s := NewState()
	exe, _ := s.RegisterExe("/usr/bin/cat", 0, false)
	key := MapKey{Path: "/lib/libc.so.6", Offset: 0, Length: 4096}
	s.AttachExeMap(exe, key, 0)

	s.DestroyExe("/usr/bin/cat")

	_, ok := s.Exes["/usr/bin/cat"]
	assert.False(t, ok)
	assert.Empty(t, s.MapsOrdered(), "map should be reclaimed once its last exemap is gone")
}

func TestRegisterExe_LinksMarkovsAgainstExisting(t *testing.T) {
	s := NewState()
	a, _ := s.RegisterExe("/bin/a", 0, true)
	b, _ := s.RegisterExe("/bin/b", 0, true)

	require.Len(t, a.Markovs, 1)
	require.Len(t, b.Markovs, 1)

	var markovSeq uint64
	for seq := range a.Markovs {
		markovSeq = seq
	}
	mk, ok := s.MarkovBySeq(markovSeq)
	require.True(t, ok)
	assert.True(t, (mk.ASeq == a.Seq && mk.BSeq == b.Seq) || (mk.ASeq == b.Seq && mk.BSeq == a.Seq))

	require.NoError(t, s.CheckInvariants())
}

func TestDestroyExe_RemovesIncidentMarkovFromBothSides(t *testing.T) {
	s := NewState()
	a, _ := s.RegisterExe("/bin/a", 0, true)
	b, _ := s.RegisterExe("/bin/b", 0, true)
	require.Len(t, b.Markovs, 1)

	s.DestroyExe("/bin/a")

	assert.Empty(t, b.Markovs, "markov incident on a destroyed exe must vanish from the partner too")
	assert.Empty(t, s.MarkovsOrdered())
}

func TestMarkovTransitionAndDwell(t *testing.T) {
	mk, err := NewMarkov(1, 10, 20, 0)
	require.NoError(t, err)

	mk.AccumulateDwell(5) // spent 5s in state 0
	assert.Equal(t, 1.0, mk.Weight[StateNeither][StateNeither])
	assert.InDelta(t, 5.0, mk.TimeToLeave[StateNeither], 1e-9)

	mk.Transition(StateAOnly, 5)
	assert.Equal(t, StateAOnly, mk.State)
	assert.Equal(t, 1.0, mk.Weight[StateNeither][StateAOnly])
	assert.Equal(t, int64(5), mk.ChangeTimestamp)
}

func TestNewMarkov_RejectsSelfPair(t *testing.T) {
	_, err := NewMarkov(1, 7, 7, 0)
	assert.ErrorIs(t, err, ErrMarkovSelfPair)
}

func TestExeRecordLaunchAndStop(t *testing.T) {
	e := NewExe(1, "/bin/x", 0)
	e.RecordLaunch(100)
	assert.True(t, e.IsRunning())
	assert.Equal(t, uint64(1), e.RawLaunches)
	assert.InDelta(t, 1.0, e.WeightedLaunches, 1e-9)

	e.RecordLaunch(200) // a second launch without a stop should still decay+accumulate
	assert.InDelta(t, LaunchDecay+1.0, e.WeightedLaunches, 1e-9)

	e.RecordStop(250)
	assert.False(t, e.IsRunning())
	assert.Equal(t, uint64(50), e.TotalDurationSec)
}
