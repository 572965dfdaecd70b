// Package scene provides a retained-mode implementation of engine.Engine.
//
// A scene keeps sources, layers, paint/layout properties and the camera in
// memory and mirrors every mutation to the Surface of the bound container.
// Rebinding to a new container sends a full sync to the new surface, so a
// view picks up the existing scene without the scene being rebuilt.
//
// Load and resize signals are always delivered asynchronously, like a real
// rendering engine, which keeps the runtime honest about its suspension
// points.
package scene

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	geojson "github.com/paulmach/go.geojson"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/pkg/logger"
)

// Options tune scene behavior. The zero value loads immediately.
type Options struct {
	// LoadDelay postpones the load signal.
	LoadDelay time.Duration
	// ManualLoad disables the automatic load signal; call Engine.Load.
	ManualLoad bool
	// ResizeDelay postpones resize completion callbacks.
	ResizeDelay time.Duration
	// FailLayers makes AddLayer fail for the given layer ids.
	FailLayers map[string]error
	// CreateErr makes the factory fail.
	CreateErr error
}

// Stats counts structural mutations over the lifetime of an engine.
type Stats struct {
	SourcesAdded  int
	LayersAdded   int
	LayersRemoved int
	DataUpdates   int
	PaintUpdates  int
	LayoutUpdates int
	Syncs         int
	Resizes       int
}

type layer struct {
	spec engine.LayerSpec
}

// Engine implements engine.Engine in memory.
type Engine struct {
	mu sync.Mutex

	id   string
	opts Options

	ready     chan struct{}
	readyOnce sync.Once
	loadTimer *time.Timer

	container *engine.Container
	camera    engine.Camera
	sources   map[string]*geojson.FeatureCollection
	layers    []*layer
	removed   bool
	stats     Stats
}

var _ engine.Engine = (*Engine)(nil)

// New creates a scene engine and schedules its load signal.
func New(opts Options, eopts engine.Options) *Engine {
	e := &Engine{
		id:      uuid.NewString(),
		opts:    opts,
		ready:   make(chan struct{}),
		camera:  eopts.Camera,
		sources: make(map[string]*geojson.FeatureCollection),
	}
	if eopts.Container != nil {
		e.SetContainer(eopts.Container)
	}
	if !opts.ManualLoad {
		e.loadTimer = time.AfterFunc(opts.LoadDelay, e.Load)
	}
	return e
}

// Load fires the load signal. It is idempotent.
func (e *Engine) Load() {
	e.readyOnce.Do(func() {
		logger.Tracef("scene %s: loaded", e.id)
		close(e.ready)
	})
}

// ID implements engine.Engine.
func (e *Engine) ID() string { return e.id }

// Ready implements engine.Engine.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Loaded implements engine.Engine.
func (e *Engine) Loaded() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// SetContainer implements engine.Engine.
func (e *Engine) SetContainer(c *engine.Container) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	e.container = c
	if c == nil {
		return
	}
	e.stats.Syncs++
	doc := e.documentLocked()
	e.sendLocked(engine.Op{Kind: engine.OpSync, Scene: &doc})
}

// Container implements engine.Engine.
func (e *Engine) Container() *engine.Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.container
}

// Resize implements engine.Engine.
func (e *Engine) Resize(done func(err error)) {
	e.mu.Lock()
	var err error
	switch {
	case e.removed:
		err = fmt.Errorf("scene %s: resize after remove", e.id)
	case e.container == nil:
		err = fmt.Errorf("scene %s: resize without container", e.id)
	default:
		e.stats.Resizes++
		e.sendLocked(engine.Op{
			Kind:   engine.OpResize,
			Width:  e.container.Width,
			Height: e.container.Height,
		})
	}
	delay := e.opts.ResizeDelay
	e.mu.Unlock()

	if done == nil {
		return
	}
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		done(err)
	}()
}

// Camera implements engine.Engine.
func (e *Engine) Camera() engine.Camera {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.camera
}

// SetCamera implements engine.Engine.
func (e *Engine) SetCamera(cam engine.Camera) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.camera = cam
	e.sendLocked(engine.Op{Kind: engine.OpCamera, Camera: &cam})
}

// AddSource implements engine.Engine.
func (e *Engine) AddSource(id string, data *geojson.FeatureCollection) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usableLocked(); err != nil {
		return err
	}
	if _, ok := e.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	if data == nil {
		data = geojson.NewFeatureCollection()
	}
	e.sources[id] = data
	e.stats.SourcesAdded++
	e.sendLocked(engine.Op{Kind: engine.OpAddSource, Source: id, Data: data})
	return nil
}

// SetSourceData implements engine.Engine.
func (e *Engine) SetSourceData(id string, data *geojson.FeatureCollection) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usableLocked(); err != nil {
		return err
	}
	if _, ok := e.sources[id]; !ok {
		return fmt.Errorf("source %q not found", id)
	}
	if data == nil {
		data = geojson.NewFeatureCollection()
	}
	e.sources[id] = data
	e.stats.DataUpdates++
	e.sendLocked(engine.Op{Kind: engine.OpSetData, Source: id, Data: data})
	return nil
}

// HasSource implements engine.Engine.
func (e *Engine) HasSource(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sources[id]
	return ok
}

// SourceData returns the current content of a source.
func (e *Engine) SourceData(id string) (*geojson.FeatureCollection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc, ok := e.sources[id]
	return fc, ok
}

// AddLayer implements engine.Engine.
func (e *Engine) AddLayer(spec engine.LayerSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usableLocked(); err != nil {
		return err
	}
	if err := e.opts.FailLayers[spec.ID]; err != nil {
		return err
	}
	if e.findLocked(spec.ID) != nil {
		return fmt.Errorf("layer %q already exists", spec.ID)
	}
	if _, ok := e.sources[spec.Source]; !ok {
		return fmt.Errorf("layer %q references unknown source %q", spec.ID, spec.Source)
	}
	spec = spec.Clone()
	e.layers = append(e.layers, &layer{spec: spec})
	e.stats.LayersAdded++
	sent := spec.Clone()
	e.sendLocked(engine.Op{Kind: engine.OpAddLayer, Layer: spec.ID, Spec: &sent})
	return nil
}

// RemoveLayer implements engine.Engine.
func (e *Engine) RemoveLayer(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usableLocked(); err != nil {
		return err
	}
	for i, l := range e.layers {
		if l.spec.ID == id {
			e.layers = append(e.layers[:i], e.layers[i+1:]...)
			e.stats.LayersRemoved++
			e.sendLocked(engine.Op{Kind: engine.OpRemoveLayer, Layer: id})
			return nil
		}
	}
	return fmt.Errorf("layer %q not found", id)
}

// HasLayer implements engine.Engine.
func (e *Engine) HasLayer(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.findLocked(id) != nil
}

// LayerIDs implements engine.Engine.
func (e *Engine) LayerIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.layers))
	for _, l := range e.layers {
		ids = append(ids, l.spec.ID)
	}
	return ids
}

// SetPaintProperty implements engine.Engine.
func (e *Engine) SetPaintProperty(layerID, name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.layerForUpdateLocked(layerID)
	if err != nil {
		return err
	}
	if l.spec.Paint == nil {
		l.spec.Paint = make(map[string]any)
	}
	l.spec.Paint[name] = value
	e.stats.PaintUpdates++
	e.sendLocked(engine.Op{Kind: engine.OpPaint, Layer: layerID, Property: name, Value: value})
	return nil
}

// SetLayoutProperty implements engine.Engine.
func (e *Engine) SetLayoutProperty(layerID, name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.layerForUpdateLocked(layerID)
	if err != nil {
		return err
	}
	if l.spec.Layout == nil {
		l.spec.Layout = make(map[string]any)
	}
	l.spec.Layout[name] = value
	e.stats.LayoutUpdates++
	e.sendLocked(engine.Op{Kind: engine.OpLayout, Layer: layerID, Property: name, Value: value})
	return nil
}

// PaintProperty implements engine.Engine.
func (e *Engine) PaintProperty(layerID, name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.findLocked(layerID)
	if l == nil {
		return nil, false
	}
	v, ok := l.spec.Paint[name]
	return v, ok
}

// LayoutProperty implements engine.Engine.
func (e *Engine) LayoutProperty(layerID, name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.findLocked(layerID)
	if l == nil {
		return nil, false
	}
	v, ok := l.spec.Layout[name]
	return v, ok
}

// Remove implements engine.Engine.
func (e *Engine) Remove() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	if e.loadTimer != nil {
		e.loadTimer.Stop()
	}
	e.sendLocked(engine.Op{Kind: engine.OpRemove})
	e.removed = true
	e.container = nil
	e.sources = nil
	e.layers = nil
}

// Removed reports whether Remove was called.
func (e *Engine) Removed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removed
}

// Stats returns a copy of the mutation counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Document returns the full scene.
func (e *Engine) Document() engine.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.documentLocked()
}

func (e *Engine) documentLocked() engine.Document {
	doc := engine.Document{
		EngineID: e.id,
		Sources:  make(map[string]*geojson.FeatureCollection, len(e.sources)),
		Layers:   make([]engine.LayerSpec, 0, len(e.layers)),
		Camera:   e.camera,
	}
	for id, fc := range e.sources {
		doc.Sources[id] = fc
	}
	for _, l := range e.layers {
		doc.Layers = append(doc.Layers, l.spec.Clone())
	}
	return doc
}

func (e *Engine) usableLocked() error {
	if e.removed {
		return fmt.Errorf("scene %s removed", e.id)
	}
	return nil
}

func (e *Engine) findLocked(id string) *layer {
	for _, l := range e.layers {
		if l.spec.ID == id {
			return l
		}
	}
	return nil
}

func (e *Engine) layerForUpdateLocked(id string) (*layer, error) {
	if err := e.usableLocked(); err != nil {
		return nil, err
	}
	l := e.findLocked(id)
	if l == nil {
		return nil, fmt.Errorf("layer %q not found", id)
	}
	return l, nil
}

// sendLocked forwards op to the bound surface, if any.
func (e *Engine) sendLocked(op engine.Op) {
	if e.container == nil || e.container.Surface == nil {
		return
	}
	if err := e.container.Surface.Send(op); err != nil {
		logger.Debugf("scene %s: surface %s dropped %s: %v", e.id, e.container.ID, op.Kind, err)
	}
}

// Factory creates scene engines and remembers every instance it created.
type Factory struct {
	mu      sync.Mutex
	opts    Options
	created []*Engine
}

// NewFactory returns a factory producing engines with opts.
func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts}
}

// Create implements engine.Factory.
func (f *Factory) Create(ctx context.Context, eopts engine.Options) (engine.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opts.CreateErr != nil {
		return nil, f.opts.CreateErr
	}
	e := New(f.opts, eopts)
	f.created = append(f.created, e)
	return e, nil
}

// Created returns every engine created so far, oldest first.
func (f *Factory) Created() []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Engine, len(f.created))
	copy(out, f.created)
	return out
}

// Last returns the most recently created engine, or nil.
func (f *Factory) Last() *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
