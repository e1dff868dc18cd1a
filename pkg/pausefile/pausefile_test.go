package pausefile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip_UntilReboot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pause")
	require.NoError(t, Write(path, 0))

	active, err := Active(path, time.Now())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestActive_ExpiresAfterDeadline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pause")
	now := time.Unix(1000, 0)
	require.NoError(t, Write(path, now.Add(60*time.Second).Unix()))

	active, err := Active(path, now.Add(20*time.Second))
	require.NoError(t, err)
	assert.True(t, active, "still within the 60s pause at t=20")

	active, err = Active(path, now.Add(70*time.Second))
	require.NoError(t, err)
	assert.False(t, active, "pause should have lapsed by t=70")
}

func TestActive_NoFileMeansNotPaused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-pause")
	active, err := Active(path, time.Now())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestClear_RemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pause")
	require.NoError(t, Write(path, 0))
	require.NoError(t, Clear(path))

	active, err := Active(path, time.Now())
	require.NoError(t, err)
	assert.False(t, active)
}
