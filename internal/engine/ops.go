package engine

import (
	geojson "github.com/paulmach/go.geojson"
)

// OpKind identifies a draw operation sent to a Surface.
type OpKind string

const (
	// OpSync carries the full scene; sent when a container is (re)bound.
	OpSync OpKind = "sync"
	// OpResize asks the surface to resize its drawing buffer.
	OpResize OpKind = "resize"
	// OpCamera moves the viewport.
	OpCamera OpKind = "camera"
	// OpAddSource registers a source.
	OpAddSource OpKind = "addSource"
	// OpSetData replaces source content.
	OpSetData OpKind = "setData"
	// OpAddLayer adds a layer.
	OpAddLayer OpKind = "addLayer"
	// OpRemoveLayer removes a layer.
	OpRemoveLayer OpKind = "removeLayer"
	// OpPaint sets a paint property.
	OpPaint OpKind = "setPaintProperty"
	// OpLayout sets a layout property.
	OpLayout OpKind = "setLayoutProperty"
	// OpRemove tells the surface the engine is gone.
	OpRemove OpKind = "remove"
	// OpStatus reports the runtime lifecycle state to the bound view.
	OpStatus OpKind = "status"
)

// Document is a full scene description.
type Document struct {
	EngineID string                                `json:"engineId"`
	Sources  map[string]*geojson.FeatureCollection `json:"sources"`
	Layers   []LayerSpec                           `json:"layers"`
	Camera   Camera                                `json:"camera"`
}

// Op is a single draw operation.
type Op struct {
	Kind     OpKind                     `json:"op"`
	Source   string                     `json:"source,omitempty"`
	Layer    string                     `json:"layer,omitempty"`
	Property string                     `json:"property,omitempty"`
	Value    any                        `json:"value,omitempty"`
	Data     *geojson.FeatureCollection `json:"data,omitempty"`
	Spec     *LayerSpec                 `json:"spec,omitempty"`
	Camera   *Camera                    `json:"camera,omitempty"`
	Scene    *Document                  `json:"scene,omitempty"`
	Width    int                        `json:"width,omitempty"`
	Height   int                        `json:"height,omitempty"`
	// State and Reason accompany OpStatus; Reason is set while degraded.
	State    string                     `json:"state,omitempty"`
	Reason   string                     `json:"reason,omitempty"`
}
