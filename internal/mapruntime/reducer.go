package mapruntime

import (
	"fmt"

	"github.com/bhandras/fleetmap/internal/actor"
	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/lifecycle"
	"github.com/bhandras/fleetmap/pkg/logger"
)

const phaseTimerName = "phase"

// Reduce is the map runtime reducer.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdInitialize:
		return reduceInitialize(state, in)
	case cmdReattach:
		return reduceReattach(state, in)
	case cmdDetach:
		return reduceDetach(state, in)
	case cmdDestroy:
		return reduceDestroy(state, in)
	case cmdRetry:
		return reduceRetry(state, in)
	case cmdResync:
		return reduceResync(state, in)
	case cmdSetMode:
		return reduceSetMode(state, in)
	case cmdSetCapability:
		return reduceSetCapability(state, in)
	case cmdApplyFocus:
		return reduceApplyFocus(state, in)
	case cmdUpdate:
		return reduceUpdate(state, in)
	case cmdEnableDemo:
		return reduceEnableDemo(state, in)
	case cmdDisableDemo:
		return reduceDisableDemo(state, in)
	case cmdStatus:
		return state, []actor.Effect{effStatus{Status: state.status(), Reply: in.Reply}}

	case evEngineFailed:
		return reduceEngineFailed(state, in)
	case evEngineLoaded:
		return reduceEngineLoaded(state, in)
	case evLayersMounted:
		return reduceLayersMounted(state, in)
	case evResized:
		return reduceResized(state, in)
	case evTimerFired:
		return reduceTimerFired(state, in)
	default:
		return state, nil
	}
}

func reply(ch chan error, err error) actor.Effect {
	return effReply{Reply: ch, Err: err}
}

func diag(level logger.Level, format string, args ...any) actor.Effect {
	return effLog{Level: level, Err: fmt.Errorf(format, args...)}
}

// advance moves the machine to target. Callers only request transitions the
// table allows, so a rejection is a bug and is reported at error level.
func (s *State) advance(to lifecycle.State, effs []actor.Effect) []actor.Effect {
	if err := s.Machine.Advance(to); err != nil {
		return append(effs, effLog{Level: logger.LevelError, Err: err})
	}
	return effs
}

func (s State) phaseTimer() actor.Effect {
	cur := s.Current()
	after := s.Timeouts.For(cur)
	if after == 0 {
		after = s.Timeouts.ForReattach()
	}
	return effStartTimer{Name: phaseTimerName, After: after, Epoch: s.Epoch, Phase: cur}
}

// notify reports the current lifecycle state to the bound container, if any.
func (s State) notify(effs []actor.Effect) []actor.Effect {
	if s.Container == nil {
		return effs
	}
	eff := effNotify{Container: s.Container, State: s.Current()}
	if s.DegradedErr != nil {
		eff.Reason = s.DegradedErr.Error()
	}
	return append(effs, eff)
}

func stale(event string, epoch int64, state State) (State, []actor.Effect) {
	return state, []actor.Effect{effLog{
		Level: logger.LevelDebug,
		Err:   StaleEpochWarning{Event: event, Epoch: epoch, Now: state.Epoch},
	}}
}

// startBootstrap moves to INITIALIZING (via DETACHED where the table needs
// it) and awaits the engine load signal, creating the engine if requested.
func startBootstrap(state State, c *engine.Container, create bool) (State, []actor.Effect) {
	var effs []actor.Effect
	if state.Current() == lifecycle.Destroyed {
		state.Machine = lifecycle.New()
	}
	switch state.Current() {
	case lifecycle.Uninitialized, lifecycle.Detached:
	default:
		effs = state.advance(lifecycle.Detached, effs)
	}
	effs = state.advance(lifecycle.Initializing, effs)

	state.Epoch++
	state.Container = c
	state.Bootstrapped = false
	state.DegradedErr = nil
	state.MountFailures = nil
	if create {
		state.HasEngine = true
		state.ReadyOnce = false
		effs = append(effs, effCreateEngine{Epoch: state.Epoch, Container: c})
	} else {
		effs = append(effs, effBind{Container: c})
	}
	return state, append(effs, effAwaitLoad{Epoch: state.Epoch}, state.phaseTimer())
}

// degrade moves to DEGRADED with err as the reason. Pending async work of the
// current epoch is invalidated.
func degrade(state State, err error) (State, []actor.Effect) {
	var effs []actor.Effect
	if state.Current() != lifecycle.Degraded {
		effs = state.advance(lifecycle.Degraded, effs)
	}
	state.Epoch++
	state.DegradedErr = err
	effs = append(effs,
		effCancelTimer{Name: phaseTimerName},
		effLog{Level: logger.LevelWarn, Err: err},
	)
	return state, state.notify(effs)
}

// enterReady moves to READY and flushes deferred commands in call order.
func enterReady(state State) (State, []actor.Effect) {
	effs := state.advance(lifecycle.Ready, nil)
	state.ReadyOnce = true
	state.DegradedErr = nil
	effs = append(effs, effCancelTimer{Name: phaseTimerName})

	if n := len(state.Deferred); n > 0 {
		effs = append(effs, diag(logger.LevelDebug, "flushing %d deferred commands", n))
	}
	for _, d := range state.Deferred {
		switch d.Kind {
		case deferUpdate:
			effs = append(effs, effUpdate{Snapshot: d.Snapshot})
		case deferDensity:
			state.Mode.Density = d.Density
			effs = append(effs, effApplyMode{Mode: state.Mode})
		case deferCapability:
			state.Mode.Capability = d.Capability
			effs = append(effs, effApplyMode{Mode: state.Mode})
		case deferFocus:
			state.Focus = d.Focus
			effs = append(effs, effApplyFocus{Focus: d.Focus})
		}
	}
	state.Deferred = nil
	return state, state.notify(effs)
}

// foldVisual moves queued mode, capability and focus commands into state and
// leaves only data updates queued. Visual commands only touch paint and
// layout, so applying them ahead of queued data is equivalent, and the first
// apply after mounting already draws the final look.
func foldVisual(state State) State {
	if len(state.Deferred) == 0 {
		return state
	}
	var rest []deferred
	for _, d := range state.Deferred {
		switch d.Kind {
		case deferDensity:
			state.Mode.Density = d.Density
		case deferCapability:
			state.Mode.Capability = d.Capability
		case deferFocus:
			state.Focus = d.Focus
		default:
			rest = append(rest, d)
		}
	}
	state.Deferred = rest
	return state
}

// enqueue buffers d. Consecutive updates are merged, which is equivalent to
// applying them in order because each layer update replaces its source.
func enqueue(state State, d deferred) (State, error) {
	n := len(state.Deferred)
	if d.Kind == deferUpdate && n > 0 && state.Deferred[n-1].Kind == deferUpdate {
		next := make([]deferred, n)
		copy(next, state.Deferred)
		next[n-1].Snapshot = next[n-1].Snapshot.Merge(d.Snapshot)
		state.Deferred = next
		return state, nil
	}
	limit := state.MaxDeferred
	if limit <= 0 {
		limit = DefaultMaxDeferred
	}
	if n >= limit {
		return state, ErrDeferredQueueFull
	}
	next := make([]deferred, n, n+1)
	copy(next, state.Deferred)
	state.Deferred = append(next, d)
	return state, nil
}

func reduceInitialize(state State, cmd cmdInitialize) (State, []actor.Effect) {
	if cmd.Container == nil {
		return state, []actor.Effect{reply(cmd.Reply, ErrNoContainer)}
	}
	switch state.Current() {
	case lifecycle.Uninitialized, lifecycle.Destroyed:
	default:
		return state, []actor.Effect{reply(cmd.Reply, ErrAlreadyInitialized)}
	}
	state, effs := startBootstrap(state, cmd.Container, true)
	return state, append(effs, reply(cmd.Reply, nil))
}

func reduceReattach(state State, cmd cmdReattach) (State, []actor.Effect) {
	if cmd.Container == nil {
		return state, []actor.Effect{reply(cmd.Reply, ErrNoContainer)}
	}
	if !state.HasEngine {
		state, effs := startBootstrap(state, cmd.Container, true)
		return state, append(effs, reply(cmd.Reply, nil))
	}
	if !state.Bootstrapped {
		state, effs := startBootstrap(state, cmd.Container, false)
		return state, append(effs, reply(cmd.Reply, nil))
	}

	// Fast path: rebind the live engine. Layers, sources and camera stay; the
	// resize callback completes the move to READY.
	state.Epoch++
	state.Container = cmd.Container
	effs := []actor.Effect{
		effBind{Container: cmd.Container},
		effResize{Epoch: state.Epoch},
	}
	if state.Current() != lifecycle.Ready {
		effs = append(effs, state.phaseTimer())
	} else {
		// READY stays READY, so the new view hears the state here.
		effs = state.notify(effs)
	}
	return state, append(effs, reply(cmd.Reply, nil))
}

func reduceDetach(state State, cmd cmdDetach) (State, []actor.Effect) {
	if cmd.ContainerID != "" && cmd.ContainerID != state.ContainerID() {
		return state, []actor.Effect{
			diag(logger.LevelDebug, "release of container %s ignored (bound: %q)", cmd.ContainerID, state.ContainerID()),
			reply(cmd.Reply, nil),
		}
	}

	cur := state.Current()
	switch {
	case cur == lifecycle.Uninitialized, cur == lifecycle.Destroyed:
		return state, []actor.Effect{reply(cmd.Reply, nil)}
	case cur == lifecycle.Detached && state.Container == nil:
		return state, []actor.Effect{reply(cmd.Reply, nil)}
	}

	var effs []actor.Effect
	if cur != lifecycle.Detached {
		effs = state.advance(lifecycle.Detached, effs)
	}
	state.Epoch++
	state.Container = nil
	effs = append(effs, effCancelTimer{Name: phaseTimerName})
	if state.HasEngine {
		effs = append(effs, effPark{Mode: state.Mode})
	}
	return state, append(effs, reply(cmd.Reply, nil))
}

func reduceDestroy(state State, cmd cmdDestroy) (State, []actor.Effect) {
	if state.Current() == lifecycle.Destroyed {
		return state, []actor.Effect{reply(cmd.Reply, nil)}
	}

	effs := state.advance(lifecycle.Destroyed, nil)
	effs = append(effs, effCancelTimer{Name: phaseTimerName})
	if state.Demo.Running {
		state.Demo.Running = false
		effs = append(effs, effStopDemo{})
	}
	if n := len(state.Deferred); n > 0 {
		effs = append(effs, diag(logger.LevelWarn, "destroy discarded %d deferred commands", n))
	}
	if state.HasEngine {
		effs = append(effs, effDestroyEngine{Mode: state.Mode})
	}

	state.Epoch++
	state.Container = nil
	state.HasEngine = false
	state.Bootstrapped = false
	state.ReadyOnce = false
	state.Deferred = nil
	state.DegradedErr = nil
	state.MountFailures = nil
	return state, append(effs, reply(cmd.Reply, nil))
}

func reduceRetry(state State, cmd cmdRetry) (State, []actor.Effect) {
	switch state.Current() {
	case lifecycle.Destroyed:
		return state, []actor.Effect{reply(cmd.Reply, ErrDestroyed)}
	case lifecycle.Degraded:
	default:
		return state, []actor.Effect{reply(cmd.Reply, ErrNotDegraded)}
	}
	if state.Container == nil {
		return state, []actor.Effect{reply(cmd.Reply, ErrNoContainer)}
	}

	if !state.HasEngine || !state.Bootstrapped {
		state, effs := startBootstrap(state, state.Container, !state.HasEngine)
		return state, append(effs, reply(cmd.Reply, nil))
	}

	state.Epoch++
	return state, []actor.Effect{
		effResize{Epoch: state.Epoch},
		state.phaseTimer(),
		reply(cmd.Reply, nil),
	}
}

func reduceResync(state State, cmd cmdResync) (State, []actor.Effect) {
	if cmd.ContainerID != state.ContainerID() {
		return state, []actor.Effect{
			diag(logger.LevelDebug, "resync of container %s ignored (bound: %q)", cmd.ContainerID, state.ContainerID()),
			reply(cmd.Reply, nil),
		}
	}
	if !state.HasEngine {
		return state, []actor.Effect{reply(cmd.Reply, nil)}
	}
	effs := state.notify([]actor.Effect{effBind{Container: state.Container}})
	return state, append(effs, reply(cmd.Reply, nil))
}

// gate decides whether a visual/data command runs now, is deferred, or is
// rejected.
func gate(state State, d deferred, what string, level logger.Level) (State, []actor.Effect, bool) {
	if state.Current() == lifecycle.Destroyed {
		return state, []actor.Effect{effReply{Err: ErrDestroyed}}, false
	}
	if state.acceptsCommands() {
		return state, nil, true
	}
	next, err := enqueue(state, d)
	if err != nil {
		return state, []actor.Effect{
			diag(logger.LevelWarn, "%s rejected in %s: %v", what, state.Current(), err),
			effReply{Err: err},
		}, false
	}
	return next, []actor.Effect{
		diag(level, "%s deferred in %s (%d queued)", what, state.Current(), len(next.Deferred)),
		effReply{},
	}, false
}

// withReply fills the reply channel of the trailing effReply produced by gate.
func withReply(effs []actor.Effect, ch chan error) []actor.Effect {
	if n := len(effs); n > 0 {
		if r, ok := effs[n-1].(effReply); ok {
			r.Reply = ch
			effs[n-1] = r
		}
	}
	return effs
}

func reduceSetMode(state State, cmd cmdSetMode) (State, []actor.Effect) {
	state, effs, now := gate(state, deferred{Kind: deferDensity, Density: cmd.Density}, "set mode", logger.LevelInfo)
	if !now {
		return state, withReply(effs, cmd.Reply)
	}
	if state.Mode.Density == cmd.Density {
		return state, []actor.Effect{reply(cmd.Reply, nil)}
	}
	state.Mode.Density = cmd.Density
	return state, []actor.Effect{effApplyMode{Mode: state.Mode}, reply(cmd.Reply, nil)}
}

func reduceSetCapability(state State, cmd cmdSetCapability) (State, []actor.Effect) {
	state, effs, now := gate(state, deferred{Kind: deferCapability, Capability: cmd.Capability}, "set capability", logger.LevelInfo)
	if !now {
		return state, withReply(effs, cmd.Reply)
	}
	if state.Mode.Capability == cmd.Capability {
		return state, []actor.Effect{reply(cmd.Reply, nil)}
	}
	state.Mode.Capability = cmd.Capability
	return state, []actor.Effect{effApplyMode{Mode: state.Mode}, reply(cmd.Reply, nil)}
}

func reduceApplyFocus(state State, cmd cmdApplyFocus) (State, []actor.Effect) {
	focus := cmd.Focus.Normalize()
	state, effs, now := gate(state, deferred{Kind: deferFocus, Focus: focus}, "focus", logger.LevelDebug)
	if !now {
		return state, withReply(effs, cmd.Reply)
	}
	state.Focus = focus
	return state, []actor.Effect{effApplyFocus{Focus: focus}, reply(cmd.Reply, nil)}
}

func reduceUpdate(state State, cmd cmdUpdate) (State, []actor.Effect) {
	if cmd.DemoGen != 0 && (!state.Demo.Running || cmd.DemoGen != state.Demo.Gen) {
		return state, []actor.Effect{
			diag(logger.LevelTrace, "dropped snapshot of stopped demo run %d", cmd.DemoGen),
			reply(cmd.Reply, nil),
		}
	}
	if cmd.Snapshot.IsEmpty() {
		return state, []actor.Effect{reply(cmd.Reply, nil)}
	}
	state, effs, now := gate(state, deferred{Kind: deferUpdate, Snapshot: cmd.Snapshot}, "update", logger.LevelDebug)
	if !now {
		return state, withReply(effs, cmd.Reply)
	}
	return state, []actor.Effect{effUpdate{Snapshot: cmd.Snapshot}, reply(cmd.Reply, nil)}
}

func reduceEnableDemo(state State, cmd cmdEnableDemo) (State, []actor.Effect) {
	if state.Current() == lifecycle.Destroyed {
		return state, []actor.Effect{reply(cmd.Reply, ErrDestroyed)}
	}
	if !state.ReadyOnce {
		return state, []actor.Effect{reply(cmd.Reply, ErrNotReady)}
	}
	cfg := cmd.Config.WithDefaults()
	if state.Demo.Running && state.Demo.Config == cfg {
		return state, []actor.Effect{reply(cmd.Reply, nil)}
	}
	state.Demo = DemoStatus{Running: true, Config: cfg, Gen: state.Demo.Gen + 1}
	return state, []actor.Effect{
		effStartDemo{Config: cfg, Gen: state.Demo.Gen},
		reply(cmd.Reply, nil),
	}
}

func reduceDisableDemo(state State, cmd cmdDisableDemo) (State, []actor.Effect) {
	if !state.Demo.Running {
		return state, []actor.Effect{reply(cmd.Reply, nil)}
	}
	state.Demo.Running = false
	return state, []actor.Effect{effStopDemo{}, reply(cmd.Reply, nil)}
}

func reduceEngineFailed(state State, ev evEngineFailed) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return stale("engine create", ev.Epoch, state)
	}
	state.HasEngine = false
	state.Bootstrapped = false
	return degrade(state, fmt.Errorf("create engine: %w", ev.Err))
}

func reduceEngineLoaded(state State, ev evEngineLoaded) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return stale("engine load", ev.Epoch, state)
	}
	if state.Current() != lifecycle.Initializing {
		return state, nil
	}
	effs := state.advance(lifecycle.LoadingLayers, nil)
	return state, append(effs, state.phaseTimer(), effMountLayers{Epoch: state.Epoch})
}

func reduceLayersMounted(state State, ev evLayersMounted) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return stale("layer mount", ev.Epoch, state)
	}
	if state.Current() != lifecycle.LoadingLayers {
		return state, nil
	}
	effs := state.advance(lifecycle.LayersMounted, nil)
	state.Bootstrapped = true
	state.MountFailures = append([]string(nil), ev.Failed...)
	state = foldVisual(state)
	return state, append(effs,
		state.phaseTimer(),
		effApplyMode{Mode: state.Mode},
		effApplyFocus{Focus: state.Focus},
		effResize{Epoch: state.Epoch},
	)
}

func reduceResized(state State, ev evResized) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return stale("resize", ev.Epoch, state)
	}
	if ev.Err != nil {
		return degrade(state, fmt.Errorf("resize: %w", ev.Err))
	}
	switch state.Current() {
	case lifecycle.LayersMounted, lifecycle.Detached, lifecycle.Degraded:
		if !state.Bootstrapped || state.Container == nil {
			return state, nil
		}
		return enterReady(state)
	default:
		return state, nil
	}
}

func reduceTimerFired(state State, ev evTimerFired) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return stale("timer "+ev.Name, ev.Epoch, state)
	}
	if ev.Name != phaseTimerName || state.Current() != ev.Phase {
		return state, nil
	}
	return degrade(state, &EngineBootstrapTimeoutError{Phase: ev.Phase, After: ev.After})
}

// status builds the reducer-owned part of Status; the host adds engine and
// demo details.
func (s State) status() Status {
	st := Status{
		State:         s.Current(),
		Epoch:         s.Epoch,
		ContainerID:   s.ContainerID(),
		Mode:          s.Mode,
		Focus:         s.Focus,
		Deferred:      len(s.Deferred),
		ReadyOnce:     s.ReadyOnce,
		MountFailures: append([]string(nil), s.MountFailures...),
		History:       s.Machine.History(),
	}
	if s.Container != nil {
		st.View = s.Container.View
	}
	if s.DegradedErr != nil {
		st.Degraded = s.DegradedErr.Error()
	}
	return st
}
