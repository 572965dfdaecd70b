// Package actortest provides test helpers for the actor framework.
package actortest

import (
	"context"
	"sync"

	"github.com/bhandras/fleetmap/internal/actor"
)

// FakeRuntime records the effect batches an actor hands to its runtime, one
// batch per input that produced effects.
type FakeRuntime struct {
	mu      sync.Mutex
	batches [][]actor.Effect
	stops   int

	// OnEffect, when set, runs for every effect on the loop goroutine and may
	// emit follow-up inputs.
	OnEffect func(ctx context.Context, eff actor.Effect, emit func(actor.Input))
}

// HandleEffects implements actor.Runtime.
func (r *FakeRuntime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	batch := append([]actor.Effect(nil), effects...)

	r.mu.Lock()
	r.batches = append(r.batches, batch)
	onEffect := r.OnEffect
	r.mu.Unlock()

	if onEffect == nil {
		return
	}
	for _, eff := range batch {
		onEffect(ctx, eff, emit)
	}
}

// Stop implements actor.Runtime.
func (r *FakeRuntime) Stop() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
}

// Stops returns how often Stop was called.
func (r *FakeRuntime) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

// Batches returns how many effect batches were handled.
func (r *FakeRuntime) Batches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// Effects returns every recorded effect in execution order.
func (r *FakeRuntime) Effects() []actor.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []actor.Effect
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}
