package actor

import "time"

// Clock provides a testable time source for runtimes.
//
// Reducers must not call a Clock; runtimes read it and inject timestamps via
// events.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine after d.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending AfterFunc call.
type Timer interface {
	// Stop prevents the call if it has not fired yet. It reports whether the
	// call was prevented.
	Stop() bool
}

// RealClock is the production Clock backed by the time package.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc implements Clock.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
