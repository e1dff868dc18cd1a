package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpreload/preloadd/pkg/blacklist"
	"github.com/kpreload/preloadd/pkg/config"
	"github.com/kpreload/preloadd/pkg/model"
	"github.com/kpreload/preloadd/pkg/osprobe"
	"github.com/kpreload/preloadd/pkg/osprobe/osprobetest"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Model.MinSize = 0
	cfg.System.ExePrefix = nil
	cfg.System.MapPrefix = nil
	return cfg
}

func TestScan_RegistersNewExeAndAttributesMaps(t *testing.T) {
	s := model.NewState()
	probe := osprobetest.New()
	probe.Start(100, "/usr/bin/vim")
	probe.SetMaps(100, osprobe.MapRegion{Path: "/usr/lib/libc.so", Offset: 0, Length: 4096})

	require.NoError(t, Scan(context.Background(), s, probe, testConfig(), blacklist.Empty()))

	exe, ok := s.Exes["/usr/bin/vim"]
	require.True(t, ok)
	assert.True(t, exe.IsRunning())
	assert.Equal(t, int64(4096), exe.Size)
	assert.Contains(t, s.RunningExes, "/usr/bin/vim")
	require.NoError(t, s.CheckInvariants())
}

func TestScan_StopDetachesRunningState(t *testing.T) {
	s := model.NewState()
	probe := osprobetest.New()
	probe.Start(100, "/usr/bin/vim")
	cfg := testConfig()

	require.NoError(t, Scan(context.Background(), s, probe, cfg, blacklist.Empty()))
	probe.Stop(100)
	require.NoError(t, Scan(context.Background(), s, probe, cfg, blacklist.Empty()))

	exe := s.Exes["/usr/bin/vim"]
	require.NotNil(t, exe)
	assert.False(t, exe.IsRunning())
	assert.NotContains(t, s.RunningExes, "/usr/bin/vim")
}

func TestScan_BlacklistedBasenameIsSkipped(t *testing.T) {
	s := model.NewState()
	probe := osprobetest.New()
	probe.Start(100, "/usr/bin/bash")
	bl, err := blacklist.Load(writeTempBlacklist(t, "bash\n"))
	require.NoError(t, err)

	require.NoError(t, Scan(context.Background(), s, probe, testConfig(), bl))
	assert.Empty(t, s.Exes)
}

func TestScan_CoRunningPairGetsMarkovLinkInStateBoth(t *testing.T) {
	s := model.NewState()
	probe := osprobetest.New()
	probe.Start(100, "/usr/bin/a")
	probe.Start(101, "/usr/bin/b")

	require.NoError(t, Scan(context.Background(), s, probe, testConfig(), blacklist.Empty()))

	a := s.Exes["/usr/bin/a"]
	require.Len(t, a.Markovs, 1)
	for seq := range a.Markovs {
		mk, ok := s.MarkovBySeq(seq)
		require.True(t, ok)
		assert.Equal(t, model.StateBoth, mk.State)
	}
}

func writeTempBlacklist(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blacklist.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
