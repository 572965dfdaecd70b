package layers

import (
	"errors"

	geojson "github.com/paulmach/go.geojson"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/pkg/feed"
)

const (
	VehiclesName   = "vehicles"
	VehiclesSource = "vehicles"
	VehiclesCircle = "vehicles-circle"
	VehiclesLabel  = "vehicles-label"
)

// Vehicles draws vehicle positions as status-colored circles with labels.
type Vehicles struct {
	sourceLayers
}

// NewVehicles returns an unmounted vehicles controller.
func NewVehicles() *Vehicles {
	return &Vehicles{sourceLayers{
		name:     VehiclesName,
		sourceID: VehiclesSource,
		specs: []engine.LayerSpec{
			{
				ID:     VehiclesCircle,
				Type:   engine.LayerCircle,
				Source: VehiclesSource,
				Paint: map[string]any{
					"circle-color":        statusColor(),
					"circle-radius":       7.0,
					"circle-opacity":      1.0,
					"circle-stroke-width": 1.5,
					"circle-stroke-color": "#ffffff",
				},
			},
			{
				ID:     VehiclesLabel,
				Type:   engine.LayerSymbol,
				Source: VehiclesSource,
				Layout: map[string]any{
					"text-field":  []any{"get", PropLabel},
					"text-offset": []any{0.0, 1.2},
					"text-size":   11.0,
					"visibility":  "visible",
				},
				Paint: map[string]any{
					"text-opacity": 1.0,
				},
				MinZoom: 10,
			},
		},
		focus: map[string]string{
			VehiclesCircle: "circle-opacity",
			VehiclesLabel:  "text-opacity",
		},
	}}
}

// Update implements Controller.
func (v *Vehicles) Update(eng engine.Engine, snap feed.Snapshot) error {
	if snap.Vehicles == nil {
		return nil
	}
	return v.push(eng, VehicleFeatures(snap.Vehicles))
}

// ApplyMode implements Controller.
func (v *Vehicles) ApplyMode(eng engine.Engine, mode ModeConfig) error {
	radius := 7.0
	if mode.Density == DensityMinimal {
		radius = 4.0
	}
	color := statusColor()
	switch mode.Capability {
	case CapabilityPlanning:
		color = "#64748b"
	case CapabilityForensic:
		radius -= 1.5
	}
	labels := mode.Density == DensityEntityRich && mode.Capability != CapabilityForensic

	return errors.Join(
		setPaint(eng, VehiclesCircle, "circle-radius", radius),
		setPaint(eng, VehiclesCircle, "circle-color", color),
		setLayout(eng, VehiclesLabel, "visibility", visibility(labels)),
	)
}

// VehicleFeatures converts vehicles to point features.
func VehicleFeatures(vehicles []feed.Vehicle) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, veh := range vehicles {
		f := geojson.NewPointFeature(coord(veh.Position))
		f.ID = veh.ID
		f.SetProperty(PropID, veh.ID)
		f.SetProperty(PropFocusID, veh.ID)
		f.SetProperty(PropStatus, string(veh.Status))
		label := veh.Label
		if label == "" {
			label = veh.ID
		}
		f.SetProperty(PropLabel, label)
		f.SetProperty("heading", veh.Heading)
		fc.AddFeature(f)
	}
	return fc
}
