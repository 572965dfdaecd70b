// Package engine defines the rendering-engine contract the map runtime drives.
//
// Only the map runtime holds an Engine. UI-facing code talks to the runtime
// and never to an Engine directly.
package engine

import (
	"context"

	geojson "github.com/paulmach/go.geojson"

	"github.com/bhandras/fleetmap/pkg/feed"
)

// LayerType is the render type of a style layer.
type LayerType string

const (
	LayerCircle  LayerType = "circle"
	LayerLine    LayerType = "line"
	LayerFill    LayerType = "fill"
	LayerSymbol  LayerType = "symbol"
	LayerHeatmap LayerType = "heatmap"
)

// LayerSpec describes a style layer bound to a source.
type LayerSpec struct {
	ID      string         `json:"id"`
	Type    LayerType      `json:"type"`
	Source  string         `json:"source"`
	Paint   map[string]any `json:"paint,omitempty"`
	Layout  map[string]any `json:"layout,omitempty"`
	MinZoom float64        `json:"minzoom,omitempty"`
	MaxZoom float64        `json:"maxzoom,omitempty"`
}

// Clone returns a deep-enough copy of the spec (property maps are copied).
func (s LayerSpec) Clone() LayerSpec {
	out := s
	out.Paint = cloneProps(s.Paint)
	out.Layout = cloneProps(s.Layout)
	return out
}

func cloneProps(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Camera is the viewport of the map.
type Camera struct {
	Center  feed.LngLat `json:"center"`
	Zoom    float64     `json:"zoom"`
	Bearing float64     `json:"bearing,omitempty"`
	Pitch   float64     `json:"pitch,omitempty"`
}

// Surface receives the engine's draw operations for one host container.
//
// Send must not block the caller for long; implementations buffer or drop.
type Surface interface {
	Send(op Op) error
}

// Container is a host for the rendering surface (one UI view).
type Container struct {
	// ID uniquely identifies this container instance.
	ID string `json:"id"`
	// View names the UI view hosting the container (operational, planning, ...).
	View string `json:"view,omitempty"`
	// Width and Height are the surface size in CSS pixels.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	// Surface receives draw operations while the container is bound. It may be
	// nil for headless containers.
	Surface Surface `json:"-"`
}

// Options configure engine creation.
type Options struct {
	// Container is the initial host; nil creates a parked engine.
	Container *Container
	// Camera is the initial viewport.
	Camera Camera
}

// Factory creates a new engine instance.
type Factory func(ctx context.Context, opts Options) (Engine, error)

// Engine is a vector-map rendering engine instance.
//
// Implementations must be safe for use from multiple goroutines; the runtime
// mutates from its loop goroutine but awaits Ready and Resize callbacks from
// helper goroutines.
type Engine interface {
	// ID returns a stable identifier for this engine instance.
	ID() string

	// Ready returns a channel closed once the engine fired its load signal.
	Ready() <-chan struct{}
	// Loaded reports whether Ready is closed.
	Loaded() bool

	// SetContainer rebinds the engine to c. A nil container parks the engine:
	// sources, layers and camera are kept but nothing is drawn.
	SetContainer(c *Container)
	// Container returns the bound container, or nil when parked.
	Container() *Container
	// Resize recomputes the drawing buffer for the bound container and invokes
	// done asynchronously once the surface was redrawn.
	Resize(done func(err error))

	// Camera returns the current viewport.
	Camera() Camera
	// SetCamera moves the viewport.
	SetCamera(cam Camera)

	// AddSource registers a GeoJSON source. It fails if id exists.
	AddSource(id string, data *geojson.FeatureCollection) error
	// SetSourceData replaces the content of an existing source.
	SetSourceData(id string, data *geojson.FeatureCollection) error
	// HasSource reports whether a source id exists.
	HasSource(id string) bool

	// AddLayer adds a style layer. It fails if the id exists or the source
	// is unknown.
	AddLayer(spec LayerSpec) error
	// RemoveLayer removes a style layer.
	RemoveLayer(id string) error
	// HasLayer reports whether a layer id exists.
	HasLayer(id string) bool
	// LayerIDs returns the layer ids in draw order.
	LayerIDs() []string

	// SetPaintProperty sets a paint property (literal or expression).
	SetPaintProperty(layerID, name string, value any) error
	// SetLayoutProperty sets a layout property (literal or expression).
	SetLayoutProperty(layerID, name string, value any) error
	// PaintProperty returns the current value of a paint property.
	PaintProperty(layerID, name string) (any, bool)
	// LayoutProperty returns the current value of a layout property.
	LayoutProperty(layerID, name string) (any, bool)

	// Remove tears the engine down. The instance must not be used afterwards.
	Remove()
}
