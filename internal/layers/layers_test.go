package layers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/scene"
	"github.com/bhandras/fleetmap/internal/style"
	"github.com/bhandras/fleetmap/pkg/feed"
)

func newEngine(opts scene.Options) *scene.Engine {
	opts.ManualLoad = true
	return scene.New(opts, engine.Options{})
}

func sampleSnapshot() feed.Snapshot {
	return feed.Snapshot{
		Vehicles: []feed.Vehicle{
			{ID: "v1", Label: "Truck 1", Position: feed.LngLat{Lng: 13.40, Lat: 52.52}, Status: feed.StatusActive},
			{ID: "v2", Position: feed.LngLat{Lng: 13.41, Lat: 52.51}, Status: feed.StatusBreakdown},
		},
		Routes: []feed.Route{
			{ID: "r1", VehicleID: "v1", Path: []feed.LngLat{{Lng: 13.4, Lat: 52.5}, {Lng: 13.5, Lat: 52.6}}, Status: feed.StatusEnRoute},
			{ID: "r-short", Path: []feed.LngLat{{Lng: 1, Lat: 1}}},
		},
		Zones: []feed.Zone{
			{ID: "z1", Name: "Depot", Ring: []feed.LngLat{{Lng: 0, Lat: 0}, {Lng: 1, Lat: 0}, {Lng: 1, Lat: 1}}},
		},
	}
}

func TestRegistry_MountIsIdempotent(t *testing.T) {
	t.Parallel()

	eng := newEngine(scene.Options{})
	reg := Default()

	require.Empty(t, reg.MountAll(eng))
	require.True(t, reg.MountedAll(eng))
	added := eng.Stats().LayersAdded
	require.Equal(t, 6, added)

	require.Empty(t, reg.MountAll(eng))
	require.Equal(t, added, eng.Stats().LayersAdded)
	require.Equal(t, []string{ZonesName, RoutesName, HeatmapName, VehiclesName}, reg.Names())
}

func TestRegistry_RejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(NewVehicles(), NewVehicles())
	require.Error(t, err)
}

func TestRegistry_MountFailureIsolated(t *testing.T) {
	t.Parallel()

	boom := errors.New("glyphs unavailable")
	eng := newEngine(scene.Options{FailLayers: map[string]error{VehiclesLabel: boom}})
	reg := Default()

	failed := reg.MountAll(eng)
	require.Len(t, failed, 1)
	require.Equal(t, VehiclesName, failed[0].Controller)
	require.Equal(t, []string{VehiclesLabel}, failed[0].Layers)
	require.ErrorIs(t, failed[0], boom)

	require.True(t, eng.HasLayer(VehiclesCircle))
	require.True(t, eng.HasLayer(RoutesLine))

	// Mode and focus skip the missing layer instead of failing.
	require.NoError(t, reg.ApplyMode(eng, ModeConfig{Density: DensityMinimal, Capability: CapabilityForensic}))
	require.NoError(t, reg.ApplyFocus(eng, 0.5))
}

func TestUpdate_SkipsUnchangedContent(t *testing.T) {
	t.Parallel()

	eng := newEngine(scene.Options{})
	reg := Default()
	require.Empty(t, reg.MountAll(eng))

	snap := sampleSnapshot()
	require.NoError(t, reg.Update(eng, snap))
	// vehicles, heatmap, routes, zones.
	require.Equal(t, 4, eng.Stats().DataUpdates)

	require.NoError(t, reg.Update(eng, snap))
	require.Equal(t, 4, eng.Stats().DataUpdates)

	// Only vehicles changed: vehicles and heatmap sources are replaced.
	snap.Vehicles[0].Position.Lng += 0.01
	require.NoError(t, reg.Update(eng, feed.Snapshot{Vehicles: snap.Vehicles}))
	require.Equal(t, 6, eng.Stats().DataUpdates)

	routes, ok := eng.SourceData(RoutesSource)
	require.True(t, ok)
	require.Len(t, routes.Features, 1)
	require.Equal(t, "v1", routes.Features[0].Properties[PropFocusID])

	zones, _ := eng.SourceData(ZonesSource)
	ring := zones.Features[0].Geometry.Polygon[0]
	require.Len(t, ring, 4)
	require.Equal(t, ring[0], ring[3])
}

func TestUpdate_EmptySliceClearsLayer(t *testing.T) {
	t.Parallel()

	eng := newEngine(scene.Options{})
	reg := Default()
	require.Empty(t, reg.MountAll(eng))
	require.NoError(t, reg.Update(eng, sampleSnapshot()))

	require.NoError(t, reg.Update(eng, feed.Snapshot{Zones: []feed.Zone{}}))
	zones, _ := eng.SourceData(ZonesSource)
	require.Empty(t, zones.Features)

	vehicles, _ := eng.SourceData(VehiclesSource)
	require.Len(t, vehicles.Features, 2)
}

func TestApplyMode_NeverAddsOrRemovesLayers(t *testing.T) {
	t.Parallel()

	eng := newEngine(scene.Options{})
	reg := Default()
	require.Empty(t, reg.MountAll(eng))
	before := eng.Stats()

	modes := []ModeConfig{
		{Density: DensityMinimal, Capability: CapabilityOperational},
		{Density: DensityEntityRich, Capability: CapabilityPlanning},
		{Density: DensityMinimal, Capability: CapabilityForensic},
		DefaultMode,
	}
	for i := 0; i < 25; i++ {
		require.NoError(t, reg.ApplyMode(eng, modes[i%len(modes)]))
	}

	after := eng.Stats()
	require.Equal(t, before.LayersAdded, after.LayersAdded)
	require.Equal(t, before.LayersRemoved, after.LayersRemoved)
	require.Equal(t, before.SourcesAdded, after.SourcesAdded)
	require.Greater(t, after.PaintUpdates, before.PaintUpdates)
}

func TestApplyMode_HeatmapOnlyInForensic(t *testing.T) {
	t.Parallel()

	eng := newEngine(scene.Options{})
	reg := Default()
	require.Empty(t, reg.MountAll(eng))

	vis := func() any {
		v, _ := eng.LayoutProperty(HeatmapLayer, "visibility")
		return v
	}
	require.Equal(t, "none", vis())

	require.NoError(t, reg.ApplyMode(eng, ModeConfig{Density: DensityEntityRich, Capability: CapabilityForensic}))
	require.Equal(t, "visible", vis())

	require.NoError(t, reg.ApplyMode(eng, ModeConfig{Density: DensityMinimal, Capability: CapabilityOperational}))
	require.Equal(t, "none", vis())
	labels, _ := eng.LayoutProperty(VehiclesLabel, "visibility")
	require.Equal(t, "none", labels)
	radius, _ := eng.PaintProperty(VehiclesCircle, "circle-radius")
	require.Equal(t, 4.0, radius)
}

func TestApplyFocus_SetsOpacityOnFocusableLayers(t *testing.T) {
	t.Parallel()

	eng := newEngine(scene.Options{})
	reg := Default()
	require.Empty(t, reg.MountAll(eng))

	expr := style.Case(style.Eq(style.Get(PropFocusID), "v1"), 1.0, 0.2)
	require.NoError(t, reg.ApplyFocus(eng, expr))

	for layer, prop := range map[string]string{
		VehiclesCircle: "circle-opacity",
		VehiclesLabel:  "text-opacity",
		RoutesLine:     "line-opacity",
		ZonesOutline:   "line-opacity",
	} {
		got, ok := eng.PaintProperty(layer, prop)
		require.True(t, ok, layer)
		require.Equal(t, expr, got, layer)
	}
}

func TestMount_NewEngineReceivesLastData(t *testing.T) {
	t.Parallel()

	reg := Default()
	first := newEngine(scene.Options{})
	require.Empty(t, reg.MountAll(first))
	require.NoError(t, reg.Update(first, sampleSnapshot()))
	first.Remove()

	second := newEngine(scene.Options{})
	require.Empty(t, reg.MountAll(second))
	vehicles, ok := second.SourceData(VehiclesSource)
	require.True(t, ok)
	require.Len(t, vehicles.Features, 2)

	// Content already matches, so the same snapshot is not re-pushed.
	require.NoError(t, reg.Update(second, sampleSnapshot()))
	require.Zero(t, second.Stats().DataUpdates)
}

func TestParse(t *testing.T) {
	t.Parallel()

	d, err := ParseDensity(" minimal ")
	require.NoError(t, err)
	require.Equal(t, DensityMinimal, d)
	_, err = ParseDensity("dense")
	require.ErrorIs(t, err, ErrUnknownDensity)

	c, err := ParseCapability("forensic")
	require.NoError(t, err)
	require.Equal(t, CapabilityForensic, c)
	_, err = ParseCapability("")
	require.ErrorIs(t, err, ErrUnknownCapability)
}
