package layers

import (
	"errors"
	"hash/fnv"

	geojson "github.com/paulmach/go.geojson"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/style"
	"github.com/bhandras/fleetmap/pkg/feed"
)

// sourceLayers is the shared bookkeeping behind every controller: one
// source, a fixed list of layer specs, and the last content pushed.
type sourceLayers struct {
	name     string
	sourceID string
	specs    []engine.LayerSpec
	// focus maps layer id -> opacity paint property for focusable layers.
	focus map[string]string

	engineID string
	lastData *geojson.FeatureCollection
	lastHash uint64
	pushed   bool
}

func (b *sourceLayers) Name() string { return b.name }

func (b *sourceLayers) LayerIDs() []string {
	ids := make([]string, len(b.specs))
	for i, s := range b.specs {
		ids[i] = s.ID
	}
	return ids
}

// bind resets per-engine bookkeeping when the controller meets a new engine
// instance (after destroy and re-initialize).
func (b *sourceLayers) bind(eng engine.Engine) {
	if b.engineID == eng.ID() {
		return
	}
	b.engineID = eng.ID()
	b.pushed = false
}

func (b *sourceLayers) Mounted(eng engine.Engine) bool {
	if !eng.HasSource(b.sourceID) {
		return false
	}
	for _, s := range b.specs {
		if !eng.HasLayer(s.ID) {
			return false
		}
	}
	return true
}

func (b *sourceLayers) Mount(eng engine.Engine) error {
	b.bind(eng)
	if b.Mounted(eng) {
		return nil
	}

	if !eng.HasSource(b.sourceID) {
		// Carry the last known content so a re-created engine shows data
		// without waiting for the next feed delivery.
		if err := eng.AddSource(b.sourceID, b.lastData); err != nil {
			return &LayerMountError{Controller: b.name, Layers: b.LayerIDs(), Err: err}
		}
		if b.lastData != nil {
			b.pushed = true
		}
	}

	var (
		failed []string
		errs   []error
	)
	for _, spec := range b.specs {
		if eng.HasLayer(spec.ID) {
			continue
		}
		if err := eng.AddLayer(spec.Clone()); err != nil {
			failed = append(failed, spec.ID)
			errs = append(errs, err)
		}
	}
	if len(failed) > 0 {
		return &LayerMountError{Controller: b.name, Layers: failed, Err: errors.Join(errs...)}
	}
	return nil
}

// push replaces the source content when it differs from the last push.
func (b *sourceLayers) push(eng engine.Engine, fc *geojson.FeatureCollection) error {
	b.bind(eng)
	raw, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	h := fnv.New64a()
	_, _ = h.Write(raw)
	sum := h.Sum64()

	b.lastData = fc
	if b.pushed && sum == b.lastHash {
		return nil
	}
	if !eng.HasSource(b.sourceID) {
		// Not mounted (mount failed); keep the data for the next mount.
		b.lastHash = sum
		return nil
	}
	if err := eng.SetSourceData(b.sourceID, fc); err != nil {
		return err
	}
	b.lastHash = sum
	b.pushed = true
	return nil
}

// setPaint sets a paint property on a mounted layer; missing layers (failed
// mounts) are skipped.
func setPaint(eng engine.Engine, layerID, prop string, value any) error {
	if !eng.HasLayer(layerID) {
		return nil
	}
	return eng.SetPaintProperty(layerID, prop, value)
}

func setLayout(eng engine.Engine, layerID, prop string, value any) error {
	if !eng.HasLayer(layerID) {
		return nil
	}
	return eng.SetLayoutProperty(layerID, prop, value)
}

func visibility(on bool) string {
	if on {
		return "visible"
	}
	return "none"
}

func (b *sourceLayers) ApplyFocus(eng engine.Engine, opacity style.Expression) error {
	var errs []error
	for _, spec := range b.specs {
		prop, ok := b.focus[spec.ID]
		if !ok {
			continue
		}
		if err := setPaint(eng, spec.ID, prop, opacity); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func statusColor() style.Expression {
	return style.Match(style.Get(PropStatus), "#94a3b8",
		string(feed.StatusActive), "#22c55e",
		string(feed.StatusEnRoute), "#3b82f6",
		string(feed.StatusIdle), "#a3a3a3",
		string(feed.StatusDelayed), "#f59e0b",
		string(feed.StatusBreakdown), "#ef4444",
		string(feed.StatusEmergency), "#dc2626",
		string(feed.StatusOffline), "#525252",
		string(feed.StatusMaintenance), "#8b5cf6",
	)
}

func coord(p feed.LngLat) []float64 {
	return []float64{p.Lng, p.Lat}
}

func coords(path []feed.LngLat) [][]float64 {
	out := make([][]float64, len(path))
	for i, p := range path {
		out[i] = coord(p)
	}
	return out
}
