package mapruntime

import (
	"time"

	"github.com/bhandras/fleetmap/internal/actor"
	"github.com/bhandras/fleetmap/internal/demo"
	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/lifecycle"
	"github.com/bhandras/fleetmap/pkg/feed"
	"github.com/bhandras/fleetmap/pkg/logger"
)

// DefaultMaxDeferred bounds the queue of commands issued before READY.
const DefaultMaxDeferred = 64

// State is the loop-owned state of the map runtime.
type State struct {
	Machine lifecycle.Machine

	// Epoch increments on every (re)attachment, detach, destroy and phase
	// restart. Async completions carry the epoch they were started under and
	// are dropped when it no longer matches.
	Epoch int64

	// Container is the bound host container; nil while parked.
	Container *engine.Container

	// HasEngine is true from engine creation until destroy (or a failed
	// creation).
	HasEngine bool
	// Bootstrapped is true once the layers were mounted on the current engine.
	Bootstrapped bool
	// ReadyOnce is true once READY was reached on the current engine.
	ReadyOnce bool

	Mode  layers.ModeConfig
	Focus FocusConfig

	// Deferred holds commands issued while commands are not accepted, in
	// call order.
	Deferred    []deferred
	MaxDeferred int

	// DegradedErr is the reason for the last move into DEGRADED.
	DegradedErr error
	// MountFailures lists controllers whose layers failed to mount.
	MountFailures []string

	Demo DemoStatus

	Timeouts lifecycle.Timeouts
}

// DemoStatus is the runtime's view of the demo generator.
type DemoStatus struct {
	Running bool        `json:"running"`
	Config  demo.Config `json:"config"`
	// Gen tags snapshots of one demo run; late snapshots of a stopped run are
	// dropped.
	Gen int64 `json:"gen"`
}

// NewState returns the initial state.
func NewState(mode layers.ModeConfig, timeouts lifecycle.Timeouts) State {
	return State{
		Machine:     lifecycle.New(),
		Mode:        mode,
		MaxDeferred: DefaultMaxDeferred,
		Timeouts:    timeouts,
	}
}

// Current returns the lifecycle state.
func (s State) Current() lifecycle.State { return s.Machine.Current() }

// acceptsCommands reports whether mode/focus/update commands reach the engine
// immediately.
func (s State) acceptsCommands() bool {
	switch s.Current() {
	case lifecycle.Ready:
		return true
	case lifecycle.Degraded:
		return s.HasEngine && s.Bootstrapped
	default:
		return false
	}
}

// ContainerID returns the bound container id, or "".
func (s State) ContainerID() string {
	if s.Container == nil {
		return ""
	}
	return s.Container.ID
}

type deferredKind int

const (
	deferUpdate deferredKind = iota
	deferDensity
	deferCapability
	deferFocus
)

// deferred is a buffered command.
type deferred struct {
	Kind       deferredKind
	Snapshot   feed.Snapshot
	Density    layers.Density
	Capability layers.Capability
	Focus      FocusConfig
}

// Status is a point-in-time description of the runtime.
type Status struct {
	State          lifecycle.State        `json:"state"`
	Epoch          int64                  `json:"epoch"`
	ContainerID    string                 `json:"containerId,omitempty"`
	View           string                 `json:"view,omitempty"`
	EngineID       string                 `json:"engineId,omitempty"`
	EnginesCreated int                    `json:"enginesCreated"`
	Camera         *engine.Camera         `json:"camera,omitempty"`
	Layers         []string               `json:"layers,omitempty"`
	Mode           layers.ModeConfig      `json:"mode"`
	Focus          FocusConfig            `json:"focus"`
	Deferred       int                    `json:"deferred"`
	ReadyOnce      bool                   `json:"readyOnce"`
	Degraded       string                 `json:"degraded,omitempty"`
	MountFailures  []string               `json:"mountFailures,omitempty"`
	Demo           demo.State             `json:"demo"`
	History        []lifecycle.Transition `json:"history,omitempty"`
}

// Inputs

type cmdInitialize struct {
	actor.InputBase
	Container *engine.Container
	Reply     chan error
}

type cmdReattach struct {
	actor.InputBase
	Container *engine.Container
	Reply     chan error
}

type cmdDetach struct {
	actor.InputBase
	// ContainerID, when set, restricts the detach to that binding.
	ContainerID string
	Reply       chan error
}

type cmdDestroy struct {
	actor.InputBase
	Reply chan error
}

type cmdRetry struct {
	actor.InputBase
	Reply chan error
}

type cmdResync struct {
	actor.InputBase
	ContainerID string
	Reply       chan error
}

type cmdSetMode struct {
	actor.InputBase
	Density layers.Density
	Reply   chan error
}

type cmdSetCapability struct {
	actor.InputBase
	Capability layers.Capability
	Reply      chan error
}

type cmdApplyFocus struct {
	actor.InputBase
	Focus FocusConfig
	Reply chan error
}

type cmdUpdate struct {
	actor.InputBase
	Snapshot feed.Snapshot
	// DemoGen is non-zero for snapshots posted by the demo generator.
	DemoGen int64
	Reply   chan error
}

type cmdEnableDemo struct {
	actor.InputBase
	Config demo.Config
	Reply  chan error
}

type cmdDisableDemo struct {
	actor.InputBase
	Reply chan error
}

type cmdStatus struct {
	actor.InputBase
	Reply chan Status
}

// evEngineFailed reports a failed engine creation.
type evEngineFailed struct {
	actor.InputBase
	Epoch int64
	Err   error
}

// evEngineLoaded reports the engine load signal.
type evEngineLoaded struct {
	actor.InputBase
	Epoch int64
}

// evLayersMounted reports the end of layer mounting.
type evLayersMounted struct {
	actor.InputBase
	Epoch  int64
	Failed []string
}

// evResized reports the engine resize callback.
type evResized struct {
	actor.InputBase
	Epoch int64
	Err   error
}

// evTimerFired reports an expired phase timer.
type evTimerFired struct {
	actor.InputBase
	Name  string
	Epoch int64
	Phase lifecycle.State
	After time.Duration
}

// Effects

type effReply struct {
	actor.EffectBase
	Reply chan error
	Err   error
}

type effLog struct {
	actor.EffectBase
	Level logger.Level
	Err   error
}

type effCreateEngine struct {
	actor.EffectBase
	Epoch     int64
	Container *engine.Container
}

type effAwaitLoad struct {
	actor.EffectBase
	Epoch int64
}

type effBind struct {
	actor.EffectBase
	Container *engine.Container
}

type effResize struct {
	actor.EffectBase
	Epoch int64
}

type effMountLayers struct {
	actor.EffectBase
	Epoch int64
}

// effPark clears the engine container and persists preferences.
type effPark struct {
	actor.EffectBase
	Mode layers.ModeConfig
}

type effDestroyEngine struct {
	actor.EffectBase
	Mode layers.ModeConfig
}

type effApplyMode struct {
	actor.EffectBase
	Mode layers.ModeConfig
}

type effApplyFocus struct {
	actor.EffectBase
	Focus FocusConfig
}

type effUpdate struct {
	actor.EffectBase
	Snapshot feed.Snapshot
}

type effStartDemo struct {
	actor.EffectBase
	Config demo.Config
	Gen    int64
}

type effStopDemo struct {
	actor.EffectBase
}

type effStartTimer struct {
	actor.EffectBase
	Name  string
	After time.Duration
	Epoch int64
	Phase lifecycle.State
}

type effCancelTimer struct {
	actor.EffectBase
	Name string
}

// effNotify pushes the lifecycle state to the container's surface.
type effNotify struct {
	actor.EffectBase
	Container *engine.Container
	State     lifecycle.State
	Reason    string
}

type effStatus struct {
	actor.EffectBase
	Status Status
	Reply  chan Status
}
