package mapruntime

import (
	"context"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/layers"
)

// Prefs is the viewport state persisted across process restarts.
type Prefs struct {
	Camera engine.Camera
	Mode   layers.ModeConfig
}

// Preferences loads and saves Prefs. Implementations must be safe to call
// from the runtime loop; they should return quickly.
type Preferences interface {
	// Load returns the saved prefs; ok is false when nothing was saved yet.
	Load(ctx context.Context) (prefs Prefs, ok bool, err error)
	Save(ctx context.Context, prefs Prefs) error
}
