package control

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpreload/preloadd/pkg/blacklist"
	"github.com/kpreload/preloadd/pkg/config"
	"github.com/kpreload/preloadd/pkg/logging"
	"github.com/kpreload/preloadd/pkg/model"
	"github.com/kpreload/preloadd/pkg/osprobe/osprobetest"
	"github.com/kpreload/preloadd/pkg/pausefile"
	"github.com/kpreload/preloadd/pkg/scheduler"
)

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s := model.NewState()
	probe := osprobetest.New()
	cfg := config.Default()
	cfg.Model.Cycle = time.Hour
	cfg.System.Autosave = time.Hour
	statePath := filepath.Join(t.TempDir(), "preload.state")
	pausePath := filepath.Join(t.TempDir(), "pause")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sc := scheduler.New(s, probe, cfg, blacklist.Empty(), nil, log, nil, statePath, pausePath)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sc.Run(ctx)
	return sc
}

func TestPauseThenResume_ToggleActiveState(t *testing.T) {
	sc := newTestScheduler(t)

	require.NoError(t, Pause(context.Background(), sc, 0))
	active, err := pausefile.Active(sc.PauseFilePath, time.Now())
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, Resume(context.Background(), sc))
	active, err = pausefile.Active(sc.PauseFilePath, time.Now())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSave_PersistsState(t *testing.T) {
	sc := newTestScheduler(t)
	require.NoError(t, Save(context.Background(), sc))

	_, err := os.Stat(sc.StatePath)
	require.NoError(t, err)
}

func TestDump_WritesJSONWithRequestID(t *testing.T) {
	sc := newTestScheduler(t)
	path := filepath.Join(t.TempDir(), "dump.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, Dump(context.Background(), sc, f))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "request_id")
}

func TestReload_SwapsConfigInPlace(t *testing.T) {
	sc := newTestScheduler(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("model:\n  minsize: 999\n"), 0o644))

	require.NoError(t, Reload(context.Background(), sc, cfgPath, ""))
	assert.Equal(t, int64(999), sc.Cfg.Model.MinSize)
}

func TestReload_PromotesManualAppToPriorityPool(t *testing.T) {
	sc := newTestScheduler(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("system:\n  manualapps:\n    - sh\n"), 0o644))

	require.NoError(t, Reload(context.Background(), sc, cfgPath, ""))

	var found *model.Exe
	for path, exe := range sc.State.Exes {
		if filepath.Base(path) == "sh" {
			found = exe
		}
	}
	require.NotNil(t, found, "manual app should have been registered")
	assert.Equal(t, model.PoolPriority, found.PoolOf)
}

func TestReload_RotatesLogFile(t *testing.T) {
	s := model.NewState()
	probe := osprobetest.New()
	cfg := config.Default()
	cfg.Model.Cycle = time.Hour
	cfg.System.Autosave = time.Hour
	logPath := filepath.Join(t.TempDir(), "preloadd.log")
	lg, err := logging.New(logPath, slog.LevelInfo)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lg.Close() })

	sc := scheduler.New(s, probe, cfg, blacklist.Empty(), nil, lg.Logger(), lg,
		filepath.Join(t.TempDir(), "preload.state"), filepath.Join(t.TempDir(), "pause"))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sc.Run(ctx)

	require.NoError(t, os.Rename(logPath, logPath+".1"))
	require.NoError(t, Reload(context.Background(), sc, "", ""))

	_, err = os.Stat(logPath)
	assert.NoError(t, err, "reload should have reopened the log at its original path")
}
