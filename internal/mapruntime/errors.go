package mapruntime

import (
	"errors"
	"fmt"
	"time"

	"github.com/bhandras/fleetmap/internal/actor"
	"github.com/bhandras/fleetmap/internal/lifecycle"
)

var (
	// ErrNotReady is returned by demo commands before READY was first reached.
	ErrNotReady = errors.New("map runtime has not been ready yet")
	// ErrAlreadyInitialized is returned by Initialize outside UNINITIALIZED
	// and DESTROYED; callers use Reattach instead.
	ErrAlreadyInitialized = errors.New("map runtime already initialized")
	// ErrDestroyed is returned by commands that need a live runtime.
	ErrDestroyed = errors.New("map runtime destroyed")
	// ErrDeferredQueueFull is returned when a command issued before READY
	// cannot be buffered.
	ErrDeferredQueueFull = errors.New("deferred command queue full")
	// ErrNotDegraded is returned by Retry outside DEGRADED.
	ErrNotDegraded = errors.New("map runtime is not degraded")
	// ErrNoContainer is returned by Initialize/Reattach without a container.
	ErrNoContainer = errors.New("container required")
	// ErrStopped is returned after Close.
	ErrStopped = actor.ErrStopped
)

// EngineBootstrapTimeoutError reports an async phase that did not complete in
// time. The runtime moves to DEGRADED; Retry or Reattach recover.
type EngineBootstrapTimeoutError struct {
	Phase lifecycle.State
	After time.Duration
}

// Error implements error.
func (e *EngineBootstrapTimeoutError) Error() string {
	return fmt.Sprintf("engine bootstrap timed out in %s after %s", e.Phase, e.After)
}

// StaleEpochWarning describes an async callback that arrived after the
// container binding moved on. It is logged at debug level and dropped.
type StaleEpochWarning struct {
	Event string
	Epoch int64
	Now   int64
}

// Error implements error.
func (w StaleEpochWarning) Error() string {
	return fmt.Sprintf("stale %s callback (epoch %d, current %d) dropped", w.Event, w.Epoch, w.Now)
}
