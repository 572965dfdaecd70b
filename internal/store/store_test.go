package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/mapruntime"
	"github.com/bhandras/fleetmap/pkg/feed"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetmap.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	db, path := openTestDB(t)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	require.Equal(t, 1, count)

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	require.NoError(t, again.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	require.Equal(t, 1, count)
}

func TestPreferences_LoadMissing(t *testing.T) {
	db, _ := openTestDB(t)

	_, ok, err := NewPreferences(db, "").Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPreferences_SaveAndLoad(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	p := NewPreferences(db, "  ")
	require.Equal(t, DefaultProfile, p.Profile())
	p.now = func() time.Time { return time.UnixMilli(1000) }

	want := mapruntime.Prefs{
		Camera: engine.Camera{Center: feed.LngLat{Lng: 13.4, Lat: 52.52}, Zoom: 11.5, Bearing: 15, Pitch: 30},
		Mode:   layers.ModeConfig{Density: layers.DensityMinimal, Capability: layers.CapabilityForensic},
	}
	require.NoError(t, p.Save(ctx, want))

	got, ok, err := p.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)

	// Upsert replaces the row.
	want.Camera.Zoom = 4
	want.Mode.Capability = layers.CapabilityPlanning
	require.NoError(t, p.Save(ctx, want))
	got, _, err = p.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	var rows int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM viewport_prefs").Scan(&rows))
	require.Equal(t, 1, rows)

	// Profiles are independent.
	_, ok, err = NewPreferences(db, "wall-display").Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPreferences_UnknownModeNamesDropped(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(`
INSERT INTO viewport_prefs (profile, center_lng, center_lat, zoom, density, capability, updated_at_ms)
VALUES ('default', 1, 2, 3, 'dense', 'strategic', 0);
`)
	require.NoError(t, err)

	got, ok, err := NewPreferences(db, "").Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3.0, got.Camera.Zoom)
	require.Empty(t, got.Mode.Density)
	require.Empty(t, got.Mode.Capability)
}
