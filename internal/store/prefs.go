package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/mapruntime"
)

// DefaultProfile is the profile used when none is configured.
const DefaultProfile = "default"

// Preferences stores the viewport of one profile. It implements
// mapruntime.Preferences.
type Preferences struct {
	db      *DB
	profile string
	now     func() time.Time
}

var _ mapruntime.Preferences = (*Preferences)(nil)

// NewPreferences returns the preferences of profile; an empty profile selects
// DefaultProfile.
func NewPreferences(db *DB, profile string) *Preferences {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = DefaultProfile
	}
	return &Preferences{db: db, profile: profile, now: time.Now}
}

// Profile returns the profile name.
func (p *Preferences) Profile() string { return p.profile }

// Load implements mapruntime.Preferences.
//
// Unknown density or capability names (from an older build) are dropped, so
// the runtime falls back to its configured mode.
func (p *Preferences) Load(ctx context.Context) (mapruntime.Prefs, bool, error) {
	var (
		prefs      mapruntime.Prefs
		density    string
		capability string
	)
	err := p.db.QueryRowContext(ctx, `
SELECT center_lng, center_lat, zoom, bearing, pitch, density, capability
FROM viewport_prefs
WHERE profile = ?;
`, p.profile).Scan(
		&prefs.Camera.Center.Lng,
		&prefs.Camera.Center.Lat,
		&prefs.Camera.Zoom,
		&prefs.Camera.Bearing,
		&prefs.Camera.Pitch,
		&density,
		&capability,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return mapruntime.Prefs{}, false, nil
	}
	if err != nil {
		return mapruntime.Prefs{}, false, err
	}

	if d, err := layers.ParseDensity(density); err == nil {
		prefs.Mode.Density = d
	}
	if c, err := layers.ParseCapability(capability); err == nil {
		prefs.Mode.Capability = c
	}
	return prefs, true, nil
}

// Save implements mapruntime.Preferences.
func (p *Preferences) Save(ctx context.Context, prefs mapruntime.Prefs) error {
	cam := prefs.Camera
	_, err := p.db.ExecContext(ctx, `
INSERT INTO viewport_prefs (profile, center_lng, center_lat, zoom, bearing, pitch, density, capability, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(profile) DO UPDATE SET
	center_lng = excluded.center_lng,
	center_lat = excluded.center_lat,
	zoom = excluded.zoom,
	bearing = excluded.bearing,
	pitch = excluded.pitch,
	density = excluded.density,
	capability = excluded.capability,
	updated_at_ms = excluded.updated_at_ms;
`, p.profile, cam.Center.Lng, cam.Center.Lat, cam.Zoom, cam.Bearing, cam.Pitch,
		string(prefs.Mode.Density), string(prefs.Mode.Capability), p.now().UnixMilli())
	return err
}
