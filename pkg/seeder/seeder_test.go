package seeder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpreload/preloadd/pkg/config"
	"github.com/kpreload/preloadd/pkg/model"
)

func TestSeed_ManualAppsGetPriorityPool(t *testing.T) {
	s := model.NewState()
	cfg := config.Default()
	cfg.System.ManualApps = []string{"sh"} // resolvable via PATH on any posix system

	n := Seed(s, cfg, nil, 0)
	assert.GreaterOrEqual(t, n, 0)

	for _, exe := range s.Exes {
		assert.Equal(t, model.PoolPriority, exe.PoolOf)
	}
}

func TestSeed_DesktopEntryResolvesExecutable(t *testing.T) {
	dir := t.TempDir()
	desktop := "[Desktop Entry]\nType=Application\nName=Shell\nExec=sh %U\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shell.desktop"), []byte(desktop), 0o644))

	s := model.NewState()
	cfg := config.Default()

	n := Seed(s, cfg, []string{dir}, 0)
	assert.Equal(t, 1, n)
}

func TestSeed_UnresolvableManualAppIsSkipped(t *testing.T) {
	s := model.NewState()
	cfg := config.Default()
	cfg.System.ManualApps = []string{"definitely-not-a-real-binary-xyz"}

	n := Seed(s, cfg, nil, 0)
	assert.Equal(t, 0, n)
	assert.Empty(t, s.Exes)
}
