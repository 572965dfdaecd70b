// Package actor provides a small actor-style event loop that supports pure
// state reducers and declarative side-effects.
//
// The core idea is:
//   - A single goroutine ("the actor loop") owns all mutable state.
//   - A pure reducer transforms state given an input and returns effects.
//   - A runtime interprets effects and emits events back.
//
// The map runtime uses the loop goroutine as its UI thread: effects are
// executed on it, so everything the runtime touches from HandleEffects has a
// single writer.
package actor

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when the actor has been stopped.
var ErrStopped = errors.New("actor stopped")

// Input is an item delivered to an actor mailbox (an event or a command).
type Input interface {
	isActorInput()
}

// Effect is a declarative side-effect produced by a reducer.
type Effect interface {
	isActorEffect()
}

// ReducerFunc is a pure state transition function. It must not perform I/O,
// spawn goroutines or read the clock.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime interprets effects and emits follow-up inputs back to the actor.
type Runtime interface {
	// HandleEffects executes effects on the loop goroutine. Blocking work must
	// run asynchronously and report back through emit. emit never blocks the
	// caller and never drops an input while the actor is running.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop releases background work. It may be called multiple times.
	Stop()
}

// Hooks provide optional observability into an actor's execution.
type Hooks[S any] struct {
	// OnInput is called after an input is dequeued, before reducing.
	OnInput func(input Input)
	// OnTransition is called after the next state has been stored.
	OnTransition func(prev S, next S, input Input)
	// OnEffects is called after reducing, before effects are handed to Runtime.
	OnEffects func(effects []Effect)
	// OnIdle is called after an input and all its effects were handled.
	OnIdle func()
	// OnPanic is called when the loop panics. If nil, panics propagate.
	OnPanic func(recovered any)
}

// Actor runs a single-threaded event loop that owns state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu     sync.Mutex
	state  S
	inbox  chan Input
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks for observability.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the actor mailbox buffer size.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n <= 0 {
			return
		}
		a.inbox = make(chan Input, n)
	}
}

// New creates a new actor with initial state, reducer, and runtime.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, 256),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the actor loop. It is idempotent.
func (a *Actor[S]) Start() {
	a.once.Do(func() { go a.loop() })
}

// Stop cancels the actor context and stops the runtime. Safe to call more
// than once.
func (a *Actor[S]) Stop() {
	a.cancel()
	if a.runtime != nil {
		a.runtime.Stop()
	}
}

// Done returns a channel that closes when the actor loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Stopped reports whether Stop was called.
func (a *Actor[S]) Stopped() bool {
	return a.ctx.Err() != nil
}

// Enqueue delivers an input without blocking. It returns false when the
// actor is stopped or the mailbox is full.
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil || a.Stopped() {
		return false
	}
	select {
	case a.inbox <- input:
		return true
	default:
		return false
	}
}

// Send delivers an input, waiting for mailbox capacity.
func (a *Actor[S]) Send(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	if a.Stopped() {
		return ErrStopped
	}
	select {
	case a.inbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the current actor state.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// emit is handed to the runtime. A full mailbox hands the input to a
// goroutine instead of blocking the loop that would drain it.
func (a *Actor[S]) emit(in Input) {
	if a.Enqueue(in) || a.Stopped() {
		return
	}
	go func() { _ = a.Send(a.ctx, in) }()
}

func (a *Actor[S]) loop() {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			if a.hooks.OnPanic != nil {
				a.hooks.OnPanic(r)
				return
			}
			panic(r)
		}
	}()

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			a.step(in)
		}
	}
}

func (a *Actor[S]) step(in Input) {
	if in == nil {
		return
	}
	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	a.mu.Lock()
	prev := a.state
	a.mu.Unlock()

	next, effects := a.reduce(prev, in)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(prev, next, in)
	}
	if len(effects) > 0 && a.hooks.OnEffects != nil {
		a.hooks.OnEffects(effects)
	}
	if a.runtime != nil && len(effects) > 0 {
		a.runtime.HandleEffects(a.ctx, effects, a.emit)
	}
	if a.hooks.OnIdle != nil {
		a.hooks.OnIdle()
	}
}
