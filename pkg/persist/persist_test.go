package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpreload/preloadd/pkg/model"
)

func buildState(t *testing.T) *model.State {
	t.Helper()
	s := model.NewState()
	a, _ := s.RegisterExe("/usr/bin/a", 10, false)
	b, _ := s.RegisterExe("/usr/bin/b", 10, false)
	s.AttachExeMap(a, model.MapKey{Path: "/usr/lib/libc.so", Offset: 0, Length: 4096}, 10)
	s.AttachExeMap(b, model.MapKey{Path: "/usr/lib/libc.so", Offset: 0, Length: 4096}, 10)
	mk, err := model.NewMarkov(1, a.Seq, b.Seq, 10)
	require.NoError(t, err)
	s.InsertLoadedMarkov(mk)
	s.BadExes["/usr/bin/broken"] = 5
	s.Time = 42
	return s
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := buildState(t)
	path := filepath.Join(t.TempDir(), "preload.state")
	require.NoError(t, Save(s, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, s.Time, loaded.Time)
	assert.Len(t, loaded.Exes, 2)
	assert.Contains(t, loaded.BadExes, "/usr/bin/broken")

	a, ok := loaded.Exes["/usr/bin/a"]
	require.True(t, ok)
	assert.Equal(t, int64(4096), a.Size)
	require.NoError(t, loaded.CheckInvariants())
}

func TestLoad_QuarantinesOnChecksumMismatch(t *testing.T) {
	s := buildState(t)
	path := filepath.Join(t.TempDir(), "preload.state")
	require.NoError(t, Save(s, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupted := append([]byte("MAP 999 1 1 file:///evil 0 1\n"), raw...)
	require.NoError(t, os.WriteFile(path, corrupted, 0o600))

	_, err = Load(path)
	require.Error(t, err)
	assert.Equal(t, model.KindIntegrityError, model.KindOf(err))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupted file should have been quarantined away")
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
