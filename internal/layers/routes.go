package layers

import (
	"errors"

	geojson "github.com/paulmach/go.geojson"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/pkg/feed"
)

const (
	RoutesName   = "routes"
	RoutesSource = "routes"
	RoutesLine   = "routes-line"
)

// Routes draws route paths as status-colored lines.
type Routes struct {
	sourceLayers
}

// NewRoutes returns an unmounted routes controller.
func NewRoutes() *Routes {
	return &Routes{sourceLayers{
		name:     RoutesName,
		sourceID: RoutesSource,
		specs: []engine.LayerSpec{{
			ID:     RoutesLine,
			Type:   engine.LayerLine,
			Source: RoutesSource,
			Paint: map[string]any{
				"line-color":   statusColor(),
				"line-width":   3.0,
				"line-opacity": 1.0,
			},
			Layout: map[string]any{
				"line-join":  "round",
				"line-cap":   "round",
				"visibility": "visible",
			},
		}},
		focus: map[string]string{RoutesLine: "line-opacity"},
	}}
}

// Update implements Controller.
func (r *Routes) Update(eng engine.Engine, snap feed.Snapshot) error {
	if snap.Routes == nil {
		return nil
	}
	return r.push(eng, RouteFeatures(snap.Routes))
}

// ApplyMode implements Controller.
func (r *Routes) ApplyMode(eng engine.Engine, mode ModeConfig) error {
	width := 3.0
	if mode.Density == DensityMinimal {
		width = 2.0
	}
	dash := any([]any{1.0, 0.0})
	switch mode.Capability {
	case CapabilityPlanning:
		width += 2
	case CapabilityForensic:
		dash = []any{2.0, 2.0}
	}
	return errors.Join(
		setPaint(eng, RoutesLine, "line-width", width),
		setPaint(eng, RoutesLine, "line-dasharray", dash),
	)
}

// RouteFeatures converts routes to line features. A route is focused together
// with the vehicle it belongs to.
func RouteFeatures(routes []feed.Route) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, rt := range routes {
		if len(rt.Path) < 2 {
			continue
		}
		f := geojson.NewLineStringFeature(coords(rt.Path))
		f.ID = rt.ID
		f.SetProperty(PropID, rt.ID)
		focusID := rt.VehicleID
		if focusID == "" {
			focusID = rt.ID
		}
		f.SetProperty(PropFocusID, focusID)
		f.SetProperty(PropStatus, string(rt.Status))
		fc.AddFeature(f)
	}
	return fc
}
