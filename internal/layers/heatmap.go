package layers

import (
	"errors"

	geojson "github.com/paulmach/go.geojson"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/pkg/feed"
)

const (
	HeatmapName   = "heatmap"
	HeatmapSource = "vehicle-density"
	HeatmapLayer  = "vehicles-heat"
)

// Heatmap draws vehicle density, weighted towards vehicles in distress. It
// is only visible in the forensic capability.
type Heatmap struct {
	sourceLayers
}

// NewHeatmap returns an unmounted heatmap controller.
func NewHeatmap() *Heatmap {
	return &Heatmap{sourceLayers{
		name:     HeatmapName,
		sourceID: HeatmapSource,
		specs: []engine.LayerSpec{{
			ID:     HeatmapLayer,
			Type:   engine.LayerHeatmap,
			Source: HeatmapSource,
			Paint: map[string]any{
				"heatmap-weight":    []any{"get", PropWeight},
				"heatmap-intensity": 1.0,
				"heatmap-radius":    24.0,
			},
			Layout:  map[string]any{"visibility": "none"},
			MaxZoom: 15,
		}},
	}}
}

// Update implements Controller.
func (h *Heatmap) Update(eng engine.Engine, snap feed.Snapshot) error {
	if snap.Vehicles == nil {
		return nil
	}
	fc := geojson.NewFeatureCollection()
	for _, veh := range snap.Vehicles {
		f := geojson.NewPointFeature(coord(veh.Position))
		weight := 1.0
		if veh.Status.IsDistress() {
			weight = 3.0
		}
		f.SetProperty(PropWeight, weight)
		fc.AddFeature(f)
	}
	return h.push(eng, fc)
}

// ApplyMode implements Controller.
func (h *Heatmap) ApplyMode(eng engine.Engine, mode ModeConfig) error {
	intensity := 1.0
	if mode.Density == DensityMinimal {
		intensity = 0.6
	}
	return errors.Join(
		setLayout(eng, HeatmapLayer, "visibility", visibility(mode.Capability == CapabilityForensic)),
		setPaint(eng, HeatmapLayer, "heatmap-intensity", intensity),
	)
}
