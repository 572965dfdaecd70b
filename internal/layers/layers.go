// Package layers implements the map's layer controllers.
//
// A controller owns one visual concern (vehicles, routes, zones, heatmap): a
// named GeoJSON source plus the style layers drawn from it. Controllers are
// long-lived handles: they are mounted once per engine instance and after
// that only their source data and paint/layout properties change.
package layers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/style"
	"github.com/bhandras/fleetmap/pkg/feed"
)

// Density selects how much per-entity detail is drawn.
type Density string

const (
	// DensityMinimal draws small markers without labels.
	DensityMinimal Density = "minimal"
	// DensityEntityRich draws larger markers with labels.
	DensityEntityRich Density = "entity-rich"
)

// Capability is the operational context the map is used in.
type Capability string

const (
	CapabilityOperational Capability = "operational"
	CapabilityPlanning    Capability = "planning"
	CapabilityForensic    Capability = "forensic"
)

var (
	// ErrUnknownDensity is returned by ParseDensity.
	ErrUnknownDensity = errors.New("unknown mode")
	// ErrUnknownCapability is returned by ParseCapability.
	ErrUnknownCapability = errors.New("unknown capability")
)

// ParseDensity validates a density name.
func ParseDensity(raw string) (Density, error) {
	switch d := Density(strings.TrimSpace(raw)); d {
	case DensityMinimal, DensityEntityRich:
		return d, nil
	default:
		return "", fmt.Errorf("%w %q (expected minimal or entity-rich)", ErrUnknownDensity, raw)
	}
}

// ParseCapability validates a capability name.
func ParseCapability(raw string) (Capability, error) {
	switch c := Capability(strings.TrimSpace(raw)); c {
	case CapabilityOperational, CapabilityPlanning, CapabilityForensic:
		return c, nil
	default:
		return "", fmt.Errorf("%w %q (expected operational, planning or forensic)", ErrUnknownCapability, raw)
	}
}

// ModeConfig is the visual configuration broadcast to every controller.
type ModeConfig struct {
	Density    Density    `json:"density"`
	Capability Capability `json:"capability"`
}

// DefaultMode is the configuration before any SetMode/SetCapability.
var DefaultMode = ModeConfig{Density: DensityEntityRich, Capability: CapabilityOperational}

// Feature property names shared by every controller.
const (
	PropID      = "id"
	PropFocusID = "focusId"
	PropStatus  = "status"
	PropLabel   = "label"
	PropKind    = "kind"
	PropWeight  = "weight"
)

// Controller owns a source/layer set in the engine.
type Controller interface {
	// Name is the stable registry key.
	Name() string
	// LayerIDs lists the style layers this controller owns.
	LayerIDs() []string
	// Mount creates the source and layers on eng. It is a no-op when already
	// fully mounted on this engine instance.
	Mount(eng engine.Engine) error
	// Mounted reports whether every layer is mounted on eng.
	Mounted(eng engine.Engine) bool
	// Update replaces the source content from snap. Snapshots without data
	// for this controller are ignored.
	Update(eng engine.Engine, snap feed.Snapshot) error
	// ApplyMode mutates paint/layout properties only.
	ApplyMode(eng engine.Engine, mode ModeConfig) error
	// ApplyFocus sets the emphasis opacity expression on focusable layers.
	ApplyFocus(eng engine.Engine, opacity style.Expression) error
}

// LayerMountError reports a controller that could not mount some layers.
// Other controllers are unaffected.
type LayerMountError struct {
	Controller string
	Layers     []string
	Err        error
}

// Error implements error.
func (e *LayerMountError) Error() string {
	return fmt.Sprintf("mount %s (layers %s): %v", e.Controller, strings.Join(e.Layers, ","), e.Err)
}

// Unwrap returns the first underlying engine error.
func (e *LayerMountError) Unwrap() error { return e.Err }
