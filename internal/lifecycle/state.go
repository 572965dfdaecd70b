// Package lifecycle is the map runtime's lifecycle state machine.
//
// It is a pure transition table plus a validator: no I/O, no timers, no
// goroutines. The runtime owns a Machine value inside its loop state and is
// the only writer.
package lifecycle

import (
	"fmt"
	"time"
)

// State is a runtime lifecycle phase.
type State string

const (
	// Uninitialized means no engine has ever been created.
	Uninitialized State = "UNINITIALIZED"
	// Initializing means the engine exists and its load signal is awaited.
	Initializing State = "INITIALIZING"
	// LoadingLayers means the engine loaded and layers are being mounted.
	LoadingLayers State = "LOADING_LAYERS"
	// LayersMounted means every mountable layer is in the engine.
	LayersMounted State = "LAYERS_MOUNTED"
	// Ready means the engine is attached and accepts data and visual commands.
	Ready State = "READY"
	// Degraded means bootstrap failed or timed out; the UI may show a banner.
	Degraded State = "DEGRADED"
	// Detached means the engine is parked without a container.
	Detached State = "DETACHED"
	// Destroyed means the engine was torn down.
	Destroyed State = "DESTROYED"
)

// All lists every state in declaration order.
var All = []State{
	Uninitialized,
	Initializing,
	LoadingLayers,
	LayersMounted,
	Ready,
	Degraded,
	Detached,
	Destroyed,
}

var table = map[State][]State{
	Uninitialized: {Initializing, Destroyed},
	Initializing:  {LoadingLayers, Degraded, Detached, Destroyed},
	LoadingLayers: {LayersMounted, Degraded, Detached, Destroyed},
	LayersMounted: {Ready, Degraded, Detached, Destroyed},
	Ready:         {Detached, Degraded, Destroyed},
	Degraded:      {Ready, Detached, Destroyed},
	Detached:      {Initializing, Ready, Degraded, Destroyed},
	Destroyed:     nil,
}

// Targets returns the legal target states from s.
func Targets(s State) []State {
	out := make([]State, len(table[s]))
	copy(out, table[s])
	return out
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, t := range table[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	_, ok := table[s]
	return ok
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown states are
// rejected, so a decoded status always names a real phase.
func (s *State) UnmarshalText(text []byte) error {
	st := State(text)
	if !st.IsValid() {
		return fmt.Errorf("unknown lifecycle state %q", text)
	}
	*s = st
	return nil
}

// IsTerminal reports whether s has no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == Destroyed
}

// IsAsync reports whether s waits on the engine and therefore carries a
// timeout.
func (s State) IsAsync() bool {
	switch s {
	case Initializing, LoadingLayers, LayersMounted:
		return true
	default:
		return false
	}
}

// AcceptsCommands reports whether visual and data commands may reach the
// engine in s.
func (s State) AcceptsCommands() bool {
	return s == Ready || s == Degraded
}

// DefaultPhaseTimeout bounds each async phase.
const DefaultPhaseTimeout = 10 * time.Second

// Timeouts configures per-phase deadlines for async states.
type Timeouts struct {
	// Default applies to every async state without an explicit entry.
	Default time.Duration
	// PerState overrides Default for individual states.
	PerState map[State]time.Duration
	// Reattach bounds the resize that completes a reattachment of an already
	// bootstrapped engine.
	Reattach time.Duration
}

// For returns the deadline for s, or zero when s is not async.
func (t Timeouts) For(s State) time.Duration {
	if !s.IsAsync() {
		return 0
	}
	if d, ok := t.PerState[s]; ok && d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultPhaseTimeout
}

// ForReattach returns the deadline for a reattachment resize.
func (t Timeouts) ForReattach() time.Duration {
	if t.Reattach > 0 {
		return t.Reattach
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultPhaseTimeout
}
