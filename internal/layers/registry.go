package layers

import (
	"errors"
	"fmt"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/style"
	"github.com/bhandras/fleetmap/pkg/feed"
	"github.com/bhandras/fleetmap/pkg/logger"
)

// Registry holds controllers in draw order. It is not safe for concurrent
// use; the map runtime only touches it from its loop goroutine.
type Registry struct {
	order []Controller
	byKey map[string]Controller
}

// NewRegistry returns a registry holding cs in order.
func NewRegistry(cs ...Controller) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Controller)}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default returns the standard controller set: zones below routes below the
// heatmap below vehicles.
func Default() *Registry {
	r, _ := NewRegistry(NewZones(), NewRoutes(), NewHeatmap(), NewVehicles())
	return r
}

// Register appends c. Names must be unique.
func (r *Registry) Register(c Controller) error {
	if _, ok := r.byKey[c.Name()]; ok {
		return fmt.Errorf("layer controller %q already registered", c.Name())
	}
	r.byKey[c.Name()] = c
	r.order = append(r.order, c)
	return nil
}

// Names returns controller names in draw order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	for i, c := range r.order {
		out[i] = c.Name()
	}
	return out
}

// MountAll mounts every controller. Failing controllers are reported and do
// not prevent the others from mounting.
func (r *Registry) MountAll(eng engine.Engine) []*LayerMountError {
	var failed []*LayerMountError
	for _, c := range r.order {
		err := c.Mount(eng)
		if err == nil {
			continue
		}
		var lme *LayerMountError
		if !errors.As(err, &lme) {
			lme = &LayerMountError{Controller: c.Name(), Layers: c.LayerIDs(), Err: err}
		}
		logger.Warnf("layers: %v", lme)
		failed = append(failed, lme)
	}
	return failed
}

// MountedAll reports whether every controller is fully mounted on eng.
func (r *Registry) MountedAll(eng engine.Engine) bool {
	for _, c := range r.order {
		if !c.Mounted(eng) {
			return false
		}
	}
	return true
}

// Update forwards snap to every controller.
func (r *Registry) Update(eng engine.Engine, snap feed.Snapshot) error {
	var errs []error
	for _, c := range r.order {
		if err := c.Update(eng, snap); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ApplyMode broadcasts mode to every controller.
func (r *Registry) ApplyMode(eng engine.Engine, mode ModeConfig) error {
	var errs []error
	for _, c := range r.order {
		if err := c.ApplyMode(eng, mode); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ApplyFocus broadcasts the focus opacity expression.
func (r *Registry) ApplyFocus(eng engine.Engine, opacity style.Expression) error {
	var errs []error
	for _, c := range r.order {
		if err := c.ApplyFocus(eng, opacity); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}
