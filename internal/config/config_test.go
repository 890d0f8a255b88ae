package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	require.Equal(t, 150*time.Millisecond, cfg.TimeoutMin)
	require.Equal(t, 300*time.Millisecond, cfg.TimeoutMax)
	require.Equal(t, 75*time.Millisecond, cfg.HeartbeatInterval)
}

func TestLoadParsesTimeoutAndHeartbeat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
heartbeat_interval = 50

[timeout]
min = 200
max = 400
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 200*time.Millisecond, cfg.TimeoutMin)
	require.Equal(t, 400*time.Millisecond, cfg.TimeoutMax)
	require.Equal(t, 50*time.Millisecond, cfg.HeartbeatInterval)
}

func TestLoadDefaultsHeartbeatToHalfMin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[timeout]
min = 100
max = 200
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 50*time.Millisecond, cfg.HeartbeatInterval)
}
