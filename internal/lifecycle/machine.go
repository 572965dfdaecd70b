package lifecycle

import "fmt"

const historyLimit = 32

// InvalidStateTransitionError is returned when a transition is not in the
// table or does not start from the machine's current state.
type InvalidStateTransitionError struct {
	From State
	To   State
	// Current is the machine state at the time of the attempt.
	Current State
}

// Error implements error.
func (e *InvalidStateTransitionError) Error() string {
	if e.Current != "" && e.Current != e.From {
		return fmt.Sprintf("invalid state transition %s -> %s (current state %s)", e.From, e.To, e.Current)
	}
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

// Transition records one applied state change.
type Transition struct {
	From State
	To   State
	// Seq is the 1-based ordinal of the transition within this machine.
	Seq int64
}

// Machine holds the current state and a bounded transition history.
//
// Machine is a value type: copying it copies the state, which is what the
// runtime reducer relies on to stay pure.
type Machine struct {
	current State
	seq     int64
	history []Transition
}

// New returns a machine in Uninitialized.
func New() Machine {
	return Machine{current: Uninitialized}
}

// Current returns the current state.
func (m Machine) Current() State {
	if m.current == "" {
		return Uninitialized
	}
	return m.current
}

// Is reports whether the machine is in one of states.
func (m Machine) Is(states ...State) bool {
	cur := m.Current()
	for _, s := range states {
		if s == cur {
			return true
		}
	}
	return false
}

// Transition moves from -> to. On failure it returns an
// *InvalidStateTransitionError and the machine is unchanged.
func (m *Machine) Transition(from, to State) error {
	cur := m.Current()
	if from != cur || !CanTransition(from, to) {
		return &InvalidStateTransitionError{From: from, To: to, Current: cur}
	}
	m.current = to
	m.seq++

	// Copy-on-write so copies of the machine never share a backing array.
	next := make([]Transition, 0, historyLimit)
	start := 0
	if len(m.history) >= historyLimit {
		start = len(m.history) - historyLimit + 1
	}
	next = append(next, m.history[start:]...)
	next = append(next, Transition{From: from, To: to, Seq: m.seq})
	m.history = next
	return nil
}

// Advance transitions from the current state to to.
func (m *Machine) Advance(to State) error {
	return m.Transition(m.Current(), to)
}

// History returns the most recent transitions, oldest first.
func (m Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Count returns the number of transitions applied so far.
func (m Machine) Count() int64 {
	return m.seq
}
