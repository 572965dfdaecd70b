// Package mapruntime owns the single rendering engine instance and mediates
// every mutation to it.
//
// The runtime is an actor: one loop goroutine owns the lifecycle machine, the
// container binding and its epoch, the visual configuration and the queue of
// deferred commands. Engine calls run on the same goroutine, so there is a
// single writer for the engine, the layer registry and the demo generator.
// Public methods enqueue a command and return once it was reduced and its
// synchronous effects ran; they never wait for the engine bootstrap.
package mapruntime

import (
	"context"
	"errors"
	"sync"

	"github.com/bhandras/fleetmap/internal/actor"
	"github.com/bhandras/fleetmap/internal/demo"
	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/lifecycle"
	"github.com/bhandras/fleetmap/pkg/feed"
	"github.com/bhandras/fleetmap/pkg/logger"
)

// Options configure a Runtime.
type Options struct {
	// Factory creates the engine. Required.
	Factory engine.Factory
	// Registry holds the layer controllers; nil selects layers.Default().
	Registry *layers.Registry
	// Clock drives phase timers; nil selects actor.RealClock.
	Clock actor.Clock
	// Preferences restores and persists camera and mode; optional.
	Preferences Preferences
	// Camera is the initial viewport when no preferences were saved.
	Camera engine.Camera
	// Mode is the initial visual configuration when no preferences were
	// saved. Zero fields select layers.DefaultMode.
	Mode layers.ModeConfig
	// Timeouts bound the async bootstrap phases.
	Timeouts lifecycle.Timeouts
	// MaxDeferred bounds the queue of commands issued before READY.
	MaxDeferred int
	// MailboxSize sets the loop mailbox capacity.
	MailboxSize int
}

// Runtime is the map runtime. Construct one per process with New and inject
// it where needed.
type Runtime struct {
	actor *actor.Actor[State]
	host  *host

	changeMu sync.Mutex
	changed  chan struct{}
	// settled is the state after the latest input's effects ran.
	settled State
}

// New builds and starts a runtime. Saved preferences, if any, override
// opts.Camera and opts.Mode.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Factory == nil {
		return nil, errors.New("mapruntime: engine factory required")
	}
	if opts.Registry == nil {
		opts.Registry = layers.Default()
	}
	if opts.Clock == nil {
		opts.Clock = actor.RealClock{}
	}

	mode := opts.Mode
	if mode.Density == "" {
		mode.Density = layers.DefaultMode.Density
	}
	if mode.Capability == "" {
		mode.Capability = layers.DefaultMode.Capability
	}
	camera := opts.Camera
	if opts.Preferences != nil {
		prefs, ok, err := opts.Preferences.Load(ctx)
		switch {
		case err != nil:
			logger.Warnf("runtime: load preferences: %v", err)
		case ok:
			camera = prefs.Camera
			if prefs.Mode.Density != "" {
				mode.Density = prefs.Mode.Density
			}
			if prefs.Mode.Capability != "" {
				mode.Capability = prefs.Mode.Capability
			}
			logger.Debugf("runtime: restored viewport zoom=%.2f mode=%s/%s", camera.Zoom, mode.Density, mode.Capability)
		}
	}

	h := &host{
		factory:  opts.Factory,
		registry: opts.Registry,
		clock:    opts.Clock,
		prefs:    opts.Preferences,
		camera:   camera,
	}
	initial := NewState(mode, opts.Timeouts)
	if opts.MaxDeferred > 0 {
		initial.MaxDeferred = opts.MaxDeferred
	}
	r := &Runtime{host: h, changed: make(chan struct{}), settled: initial}

	actorOpts := []actor.Option[State]{
		actor.WithHooks(actor.Hooks[State]{
			OnInput: func(in actor.Input) {
				logger.Tracef("runtime: input %T", in)
			},
			OnTransition: func(prev, next State, _ actor.Input) {
				if prev.Current() != next.Current() {
					logger.Debugf("runtime: %s -> %s (epoch %d)", prev.Current(), next.Current(), next.Epoch)
				}
			},
			OnIdle: r.notify,
		}),
	}
	if opts.MailboxSize > 0 {
		actorOpts = append(actorOpts, actor.WithMailboxSize[State](opts.MailboxSize))
	}
	r.actor = actor.New[State](initial, Reduce, h, actorOpts...)
	h.post = r.actor.Send
	r.actor.Start()
	return r, nil
}

// Close stops the loop, the demo generator and pending timers. The engine is
// left as is; call Destroy first to tear it down.
func (r *Runtime) Close() {
	r.actor.Stop()
	<-r.actor.Done()
}

// notify runs on the loop goroutine after every input.
func (r *Runtime) notify() {
	s := r.actor.State()
	r.changeMu.Lock()
	r.settled = s
	close(r.changed)
	r.changed = make(chan struct{})
	r.changeMu.Unlock()
}

func (r *Runtime) call(ctx context.Context, mk func(reply chan error) actor.Input) error {
	return actor.Call(ctx, r.actor, mk)
}

// Initialize creates the engine in c and starts the async bootstrap. It is
// valid from UNINITIALIZED and DESTROYED only.
func (r *Runtime) Initialize(ctx context.Context, c *engine.Container) error {
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdInitialize{Container: c, Reply: reply}
	})
}

// Reattach moves the existing engine into c without recreating layers, or
// initializes when there is no engine yet.
func (r *Runtime) Reattach(ctx context.Context, c *engine.Container) error {
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdReattach{Container: c, Reply: reply}
	})
}

// Detach parks the engine without a container. It is idempotent.
func (r *Runtime) Detach(ctx context.Context) error {
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdDetach{Reply: reply}
	})
}

// Release detaches only if containerID is still the bound container, so an
// unmount that arrives after a newer mount is harmless.
func (r *Runtime) Release(ctx context.Context, containerID string) error {
	if containerID == "" {
		return ErrNoContainer
	}
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdDetach{ContainerID: containerID, Reply: reply}
	})
}

// Resync resends the full scene and the lifecycle state to containerID if it
// is still the bound container. Views call it after their surface dropped
// operations.
func (r *Runtime) Resync(ctx context.Context, containerID string) error {
	if containerID == "" {
		return ErrNoContainer
	}
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdResync{ContainerID: containerID, Reply: reply}
	})
}

// Destroy tears the engine down and stops the demo generator.
func (r *Runtime) Destroy(ctx context.Context) error {
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdDestroy{Reply: reply}
	})
}

// Retry restarts the bootstrap from DEGRADED.
func (r *Runtime) Retry(ctx context.Context) error {
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdRetry{Reply: reply}
	})
}

// SetMode switches the visual density.
func (r *Runtime) SetMode(ctx context.Context, d layers.Density) error {
	d, err := layers.ParseDensity(string(d))
	if err != nil {
		return err
	}
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdSetMode{Density: d, Reply: reply}
	})
}

// SetCapability switches the operational capability.
func (r *Runtime) SetCapability(ctx context.Context, c layers.Capability) error {
	c, err := layers.ParseCapability(string(c))
	if err != nil {
		return err
	}
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdSetCapability{Capability: c, Reply: reply}
	})
}

// ApplyFocusMode sets the focus emphasis.
func (r *Runtime) ApplyFocusMode(ctx context.Context, f FocusConfig) error {
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdApplyFocus{Focus: f, Reply: reply}
	})
}

// Update pushes an entity snapshot to the layer controllers.
func (r *Runtime) Update(ctx context.Context, snap feed.Snapshot) error {
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdUpdate{Snapshot: snap, Reply: reply}
	})
}

// EnableDemoMode starts the demo generator. Enabling a running generator
// with the same config is a no-op.
func (r *Runtime) EnableDemoMode(ctx context.Context, cfg demo.Config) error {
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdEnableDemo{Config: cfg, Reply: reply}
	})
}

// DisableDemoMode stops the demo generator.
func (r *Runtime) DisableDemoMode(ctx context.Context) error {
	return r.call(ctx, func(reply chan error) actor.Input {
		return cmdDisableDemo{Reply: reply}
	})
}

// Status returns a point-in-time description of the runtime.
func (r *Runtime) Status(ctx context.Context) (Status, error) {
	return actor.Request(ctx, r.actor, func(reply chan Status) actor.Input {
		return cmdStatus{Reply: reply}
	})
}

// State returns a copy of the loop state.
func (r *Runtime) State() State {
	return r.actor.State()
}

// WaitFor blocks until pred holds for the loop state (after the effects of
// the input that produced it ran) or ctx ends.
func (r *Runtime) WaitFor(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		r.changeMu.Lock()
		ch, s := r.changed, r.settled
		r.changeMu.Unlock()

		if pred(s) {
			return s, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, ctx.Err()
		case <-r.actor.Done():
			return s, ErrStopped
		}
	}
}

// InState is a WaitFor predicate matching any of states.
func InState(states ...lifecycle.State) func(State) bool {
	return func(s State) bool { return s.Machine.Is(states...) }
}
