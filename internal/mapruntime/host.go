package mapruntime

import (
	"context"
	"errors"
	"sync"

	"github.com/bhandras/fleetmap/internal/actor"
	"github.com/bhandras/fleetmap/internal/demo"
	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/pkg/feed"
	"github.com/bhandras/fleetmap/pkg/logger"
)

// host interprets runtime effects. Engine, registry and demo are touched only
// from HandleEffects, which runs on the actor loop goroutine; mu guards the
// pieces Stop and helper goroutines also reach.
//
// host never mutates State. It reports back through emit.
type host struct {
	factory  engine.Factory
	registry *layers.Registry
	clock    actor.Clock
	prefs    Preferences
	camera   engine.Camera
	post     func(ctx context.Context, in actor.Input) error

	eng     engine.Engine
	created int

	mu         sync.Mutex
	timers     map[string]actor.Timer
	waitCancel chan struct{}
	demo       *demo.Engine
}

// HandleEffects implements actor.Runtime.
func (h *host) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case effReply:
			if e.Reply != nil {
				select {
				case e.Reply <- e.Err:
				default:
				}
			}
		case effLog:
			logger.Logf(e.Level, "runtime: %v", e.Err)
		case effCreateEngine:
			h.createEngine(ctx, e, emit)
		case effAwaitLoad:
			h.awaitLoad(ctx, e, emit)
		case effBind:
			h.bind(e.Container)
		case effResize:
			h.resize(ctx, e, emit)
		case effMountLayers:
			h.mountLayers(e, emit)
		case effPark:
			h.park(ctx, e)
		case effDestroyEngine:
			h.destroyEngine(ctx, e)
		case effApplyMode:
			h.applyMode(e.Mode)
		case effApplyFocus:
			h.applyFocus(e.Focus)
		case effUpdate:
			h.update(e.Snapshot)
		case effStartDemo:
			h.startDemo(e)
		case effStopDemo:
			h.stopDemo()
		case effStartTimer:
			h.startTimer(ctx, e, emit)
		case effCancelTimer:
			h.cancelTimer(e.Name)
		case effStatus:
			h.status(e)
		case effNotify:
			h.notify(e)
		default:
			logger.Debugf("runtime: unknown effect %T", eff)
		}
	}
}

// Stop implements actor.Runtime.
func (h *host) Stop() {
	h.mu.Lock()
	for name, t := range h.timers {
		t.Stop()
		delete(h.timers, name)
	}
	if h.waitCancel != nil {
		close(h.waitCancel)
		h.waitCancel = nil
	}
	d := h.demo
	h.demo = nil
	h.mu.Unlock()

	if d != nil {
		d.Stop()
	}
}

func (h *host) createEngine(ctx context.Context, eff effCreateEngine, emit func(actor.Input)) {
	if h.eng != nil {
		// A previous engine still exists only if destroy was skipped; never
		// keep two.
		h.eng.Remove()
		h.eng = nil
	}
	eng, err := h.factory(ctx, engine.Options{Container: eff.Container, Camera: h.camera})
	if err != nil {
		emit(evEngineFailed{Epoch: eff.Epoch, Err: err})
		return
	}
	h.eng = eng
	h.created++
	logger.Infof("runtime: created engine %s (container %s)", eng.ID(), containerID(eff.Container))
}

// awaitLoad waits for the engine load signal on a helper goroutine. The phase
// timer bounds the wait; a newer wait cancels this one.
func (h *host) awaitLoad(ctx context.Context, eff effAwaitLoad, emit func(actor.Input)) {
	eng := h.eng
	if eng == nil {
		return
	}
	h.mu.Lock()
	if h.waitCancel != nil {
		close(h.waitCancel)
	}
	cancel := make(chan struct{})
	h.waitCancel = cancel
	h.mu.Unlock()

	go func() {
		select {
		case <-eng.Ready():
			emit(evEngineLoaded{Epoch: eff.Epoch})
		case <-cancel:
		case <-ctx.Done():
		}
	}()
}

func (h *host) bind(c *engine.Container) {
	if h.eng == nil {
		return
	}
	h.eng.SetContainer(c)
	logger.Debugf("runtime: engine %s bound to container %s", h.eng.ID(), containerID(c))
}

func (h *host) resize(ctx context.Context, eff effResize, emit func(actor.Input)) {
	if h.eng == nil {
		emit(evResized{Epoch: eff.Epoch, Err: errors.New("no engine")})
		return
	}
	h.eng.Resize(func(err error) {
		if ctx.Err() != nil {
			return
		}
		emit(evResized{Epoch: eff.Epoch, Err: err})
	})
}

func (h *host) mountLayers(eff effMountLayers, emit func(actor.Input)) {
	if h.eng == nil {
		return
	}
	var failed []string
	for _, lme := range h.registry.MountAll(h.eng) {
		failed = append(failed, lme.Controller)
	}
	emit(evLayersMounted{Epoch: eff.Epoch, Failed: failed})
}

func (h *host) park(ctx context.Context, eff effPark) {
	if h.eng == nil {
		return
	}
	h.eng.SetContainer(nil)
	h.camera = h.eng.Camera()
	h.savePrefs(ctx, eff.Mode)
	logger.Debugf("runtime: engine %s parked", h.eng.ID())
}

func (h *host) destroyEngine(ctx context.Context, eff effDestroyEngine) {
	h.mu.Lock()
	if h.waitCancel != nil {
		close(h.waitCancel)
		h.waitCancel = nil
	}
	h.mu.Unlock()

	if h.eng == nil {
		return
	}
	h.camera = h.eng.Camera()
	h.savePrefs(ctx, eff.Mode)
	id := h.eng.ID()
	h.eng.Remove()
	h.eng = nil
	logger.Infof("runtime: destroyed engine %s", id)
}

func (h *host) savePrefs(ctx context.Context, mode layers.ModeConfig) {
	if h.prefs == nil {
		return
	}
	err := h.prefs.Save(ctx, Prefs{Camera: h.camera, Mode: mode})
	if err != nil {
		logger.Warnf("runtime: save preferences: %v", err)
	}
}

func (h *host) applyMode(mode layers.ModeConfig) {
	if h.eng == nil {
		return
	}
	if err := h.registry.ApplyMode(h.eng, mode); err != nil {
		logger.Warnf("runtime: apply mode %s/%s: %v", mode.Density, mode.Capability, err)
	}
}

func (h *host) applyFocus(f FocusConfig) {
	if h.eng == nil {
		return
	}
	if err := h.registry.ApplyFocus(h.eng, FocusOpacity(f)); err != nil {
		logger.Warnf("runtime: apply focus: %v", err)
	}
}

func (h *host) update(snap feed.Snapshot) {
	if h.eng == nil {
		return
	}
	if err := h.registry.Update(h.eng, snap); err != nil {
		logger.Warnf("runtime: update: %v", err)
	}
}

func (h *host) startDemo(eff effStartDemo) {
	h.stopDemo()

	gen := eff.Gen
	post := h.post
	d := demo.New(eff.Config, func(ctx context.Context, snap feed.Snapshot) error {
		return post(ctx, cmdUpdate{Snapshot: snap, DemoGen: gen})
	})

	h.mu.Lock()
	h.demo = d
	h.mu.Unlock()
	d.Start()
}

func (h *host) stopDemo() {
	h.mu.Lock()
	d := h.demo
	h.demo = nil
	h.mu.Unlock()
	if d != nil {
		d.Stop()
	}
}

func (h *host) startTimer(ctx context.Context, eff effStartTimer, emit func(actor.Input)) {
	if eff.Name == "" || eff.After <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timers == nil {
		h.timers = make(map[string]actor.Timer)
	}
	if prev := h.timers[eff.Name]; prev != nil {
		prev.Stop()
	}
	h.timers[eff.Name] = h.clock.AfterFunc(eff.After, func() {
		if ctx.Err() != nil {
			return
		}
		emit(evTimerFired{Name: eff.Name, Epoch: eff.Epoch, Phase: eff.Phase, After: eff.After})
	})
}

func (h *host) cancelTimer(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t := h.timers[name]; t != nil {
		t.Stop()
	}
	delete(h.timers, name)
}

func (h *host) status(eff effStatus) {
	st := eff.Status
	st.EnginesCreated = h.created
	if h.eng != nil {
		st.EngineID = h.eng.ID()
		cam := h.eng.Camera()
		st.Camera = &cam
		st.Layers = h.eng.LayerIDs()
	}
	h.mu.Lock()
	d := h.demo
	h.mu.Unlock()
	if d != nil {
		st.Demo = d.State()
	}
	select {
	case eff.Reply <- st:
	default:
	}
}

func (h *host) notify(eff effNotify) {
	if eff.Container == nil || eff.Container.Surface == nil {
		return
	}
	op := engine.Op{Kind: engine.OpStatus, State: string(eff.State), Reason: eff.Reason}
	if err := eff.Container.Surface.Send(op); err != nil {
		logger.Debugf("runtime: status to container %s: %v", eff.Container.ID, err)
	}
}

func containerID(c *engine.Container) string {
	if c == nil {
		return "<none>"
	}
	return c.ID
}
