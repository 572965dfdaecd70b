package layers

import (
	"errors"

	geojson "github.com/paulmach/go.geojson"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/pkg/feed"
)

const (
	ZonesName    = "zones"
	ZonesSource  = "zones"
	ZonesFill    = "zones-fill"
	ZonesOutline = "zones-outline"
)

// Zones draws service areas and depot perimeters.
type Zones struct {
	sourceLayers
}

// NewZones returns an unmounted zones controller.
func NewZones() *Zones {
	return &Zones{sourceLayers{
		name:     ZonesName,
		sourceID: ZonesSource,
		specs: []engine.LayerSpec{
			{
				ID:     ZonesFill,
				Type:   engine.LayerFill,
				Source: ZonesSource,
				Paint: map[string]any{
					"fill-color":   "#0ea5e9",
					"fill-opacity": 0.15,
				},
			},
			{
				ID:     ZonesOutline,
				Type:   engine.LayerLine,
				Source: ZonesSource,
				Paint: map[string]any{
					"line-color":   "#0369a1",
					"line-width":   1.0,
					"line-opacity": 1.0,
				},
				Layout: map[string]any{"visibility": "visible"},
			},
		},
		focus: map[string]string{ZonesOutline: "line-opacity"},
	}}
}

// Update implements Controller.
func (z *Zones) Update(eng engine.Engine, snap feed.Snapshot) error {
	if snap.Zones == nil {
		return nil
	}
	return z.push(eng, ZoneFeatures(snap.Zones))
}

// ApplyMode implements Controller.
func (z *Zones) ApplyMode(eng engine.Engine, mode ModeConfig) error {
	fill := 0.15
	if mode.Capability == CapabilityPlanning {
		fill = 0.3
	}
	return errors.Join(
		setPaint(eng, ZonesFill, "fill-opacity", fill),
		setLayout(eng, ZonesOutline, "visibility", visibility(mode.Density == DensityEntityRich)),
	)
}

// ZoneFeatures converts zones to polygon features. Open rings are closed.
func ZoneFeatures(zones []feed.Zone) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, zn := range zones {
		if len(zn.Ring) < 3 {
			continue
		}
		ring := coords(zn.Ring)
		if first, last := zn.Ring[0], zn.Ring[len(zn.Ring)-1]; first != last {
			ring = append(ring, coord(first))
		}
		f := geojson.NewPolygonFeature([][][]float64{ring})
		f.ID = zn.ID
		f.SetProperty(PropID, zn.ID)
		f.SetProperty(PropFocusID, zn.ID)
		f.SetProperty(PropStatus, string(zn.Status))
		f.SetProperty(PropLabel, zn.Name)
		f.SetProperty(PropKind, zn.Kind)
		fc.AddFeature(f)
	}
	return fc
}
