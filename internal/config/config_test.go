package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/lifecycle"
	"github.com/bhandras/fleetmap/pkg/logger"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetmap.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// clearEnv blanks every variable Load reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FLEETMAP_CONFIG", "FLEETMAP_ADDR", "PORT", "FLEETMAP_DB", "DATABASE_PATH",
		"FLEETMAP_PROFILE", "FLEETMAP_LOG_LEVEL", "FLEETMAP_LOG_JSON", "FLEETMAP_DEBUG",
		"DEBUG", "FLEETMAP_ALLOWED_ORIGINS", "FLEETMAP_DENSITY", "FLEETMAP_CAPABILITY",
		"FLEETMAP_PHASE_TIMEOUT", "FLEETMAP_REATTACH_TIMEOUT", "FLEETMAP_MAX_DEFERRED",
		"FLEETMAP_PREWARM", "FLEETMAP_DEMO", "FLEETMAP_DEMO_INTERVAL", "FLEETMAP_DEMO_SEED",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":3010", cfg.Addr)
	require.Equal(t, layers.DefaultMode, cfg.Mode)
	require.Equal(t, lifecycle.DefaultPhaseTimeout, cfg.PhaseTimeout)
	require.Equal(t, logger.LevelInfo, cfg.LogLevel)
	require.False(t, cfg.Demo)
	require.Equal(t, lifecycle.Timeouts{Default: lifecycle.DefaultPhaseTimeout, Reattach: 5 * time.Second}, cfg.Timeouts())
}

func TestLoad_FileThenEnvThenOverrides(t *testing.T) {
	path := writeFile(t, `
addr = ":9000"
database = "/var/lib/fleetmap/prefs.db"
log_level = "warn"

[map]
density = "minimal"
capability = "planning"
center = [2.35, 48.85]
zoom = 9.5
phase_timeout = "3s"
prewarm = true

[demo]
enabled = true
interval = "250ms"
seed = 42

[scene]
resize_delay = "20ms"
`)
	clearEnv(t)
	t.Setenv("FLEETMAP_CONFIG", path)
	t.Setenv("FLEETMAP_CAPABILITY", "forensic")
	t.Setenv("FLEETMAP_DEMO_SEED", "7")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, "/var/lib/fleetmap/prefs.db", cfg.DatabasePath)
	require.Equal(t, logger.LevelWarn, cfg.LogLevel)
	require.Equal(t, layers.DensityMinimal, cfg.Mode.Density)
	require.Equal(t, layers.CapabilityForensic, cfg.Mode.Capability)
	require.Equal(t, 2.35, cfg.Camera.Center.Lng)
	require.Equal(t, 48.85, cfg.Camera.Center.Lat)
	require.Equal(t, 9.5, cfg.Camera.Zoom)
	require.Equal(t, 3*time.Second, cfg.PhaseTimeout)
	require.True(t, cfg.Prewarm)
	require.True(t, cfg.Demo)
	require.Equal(t, 250*time.Millisecond, cfg.DemoOptions.Interval)
	require.EqualValues(t, 7, cfg.DemoOptions.Seed)
	require.Equal(t, 20*time.Millisecond, cfg.ResizeDelay)

	addr := ":7000"
	demo := false
	debug := true
	cfg, err = Load(Overrides{Addr: &addr, Demo: &demo, Debug: &debug})
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Addr)
	require.False(t, cfg.Demo)
	require.Equal(t, logger.LevelDebug, cfg.LogLevel)
}

func TestLoad_PortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8088")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":8088", cfg.Addr)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	t.Run("bad density env", func(t *testing.T) {
		t.Setenv("FLEETMAP_DENSITY", "dense")
		_, err := Load(Overrides{})
		require.ErrorContains(t, err, "FLEETMAP_DENSITY")
	})

	t.Run("bad duration env", func(t *testing.T) {
		t.Setenv("FLEETMAP_PHASE_TIMEOUT", "soon")
		_, err := Load(Overrides{})
		require.ErrorContains(t, err, "FLEETMAP_PHASE_TIMEOUT")
	})

	t.Run("bad file value", func(t *testing.T) {
		path := writeFile(t, "[map]\ncapability = \"strategic\"\n")
		_, err := Load(Overrides{ConfigPath: &path})
		require.ErrorContains(t, err, "map.capability")
	})

	t.Run("negative duration", func(t *testing.T) {
		path := writeFile(t, "[map]\nphase_timeout = \"-1s\"\n")
		_, err := Load(Overrides{ConfigPath: &path})
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "absent.toml")
		_, err := Load(Overrides{ConfigPath: &path})
		require.Error(t, err)
	})

	t.Run("zero max deferred", func(t *testing.T) {
		t.Setenv("FLEETMAP_MAX_DEFERRED", "0")
		_, err := Load(Overrides{})
		require.ErrorContains(t, err, "max deferred")
	})
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
	require.Nil(t, splitList(" , "))
}
