package lifecycle

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// machineAt builds a machine whose current state is s by walking legal
// transitions.
func machineAt(t *testing.T, s State) Machine {
	t.Helper()

	paths := map[State][]State{
		Uninitialized: nil,
		Initializing:  {Initializing},
		LoadingLayers: {Initializing, LoadingLayers},
		LayersMounted: {Initializing, LoadingLayers, LayersMounted},
		Ready:         {Initializing, LoadingLayers, LayersMounted, Ready},
		Degraded:      {Initializing, Degraded},
		Detached:      {Initializing, Detached},
		Destroyed:     {Destroyed},
	}
	m := New()
	for _, step := range paths[s] {
		require.NoError(t, m.Advance(step))
	}
	require.Equal(t, s, m.Current())
	return m
}

func TestTransition_RejectsPairsOutsideTable(t *testing.T) {
	t.Parallel()

	for _, from := range All {
		for _, to := range All {
			if CanTransition(from, to) {
				continue
			}
			m := machineAt(t, from)
			before := m.History()

			err := m.Transition(from, to)

			var invalid *InvalidStateTransitionError
			require.True(t, errors.As(err, &invalid), "%s -> %s", from, to)
			require.Equal(t, from, invalid.From)
			require.Equal(t, to, invalid.To)
			require.Equal(t, from, m.Current(), "state must be unchanged for %s -> %s", from, to)
			require.Equal(t, before, m.History())
		}
	}
}

func TestTransition_AcceptsEveryTableEntry(t *testing.T) {
	t.Parallel()

	for _, from := range All {
		for _, to := range Targets(from) {
			m := machineAt(t, from)
			require.NoError(t, m.Transition(from, to), "%s -> %s", from, to)
			require.Equal(t, to, m.Current())
		}
	}
}

func TestTransition_DetachedReachableFromEveryActivePhase(t *testing.T) {
	t.Parallel()

	for _, from := range []State{Initializing, LoadingLayers, LayersMounted, Ready, Degraded} {
		m := machineAt(t, from)
		require.NoError(t, m.Transition(from, Detached), "%s -> DETACHED", from)
	}

	m := machineAt(t, Destroyed)
	require.Error(t, m.Transition(Destroyed, Detached))
}

func TestTransition_WrongFromIsRejected(t *testing.T) {
	t.Parallel()

	m := machineAt(t, Ready)
	err := m.Transition(Detached, Initializing)
	require.Error(t, err)
	require.Contains(t, err.Error(), "current state READY")
	require.Equal(t, Ready, m.Current())
}

func TestDestroyedIsTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, Destroyed.IsTerminal())
	require.Empty(t, Targets(Destroyed))
	for _, to := range All {
		require.False(t, CanTransition(Destroyed, to))
	}
}

func TestMachineCopiesAreIndependent(t *testing.T) {
	t.Parallel()

	a := machineAt(t, Initializing)
	b := a
	require.NoError(t, b.Advance(LoadingLayers))

	require.Equal(t, Initializing, a.Current())
	require.Len(t, a.History(), 1)
	require.Len(t, b.History(), 2)
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()

	m := machineAt(t, Ready)
	for i := 0; i < 40; i++ {
		require.NoError(t, m.Advance(Detached))
		require.NoError(t, m.Advance(Ready))
	}
	h := m.History()
	require.Len(t, h, historyLimit)
	require.Equal(t, m.Count(), h[len(h)-1].Seq)
}

func TestTimeouts(t *testing.T) {
	t.Parallel()

	var zero Timeouts
	require.Equal(t, DefaultPhaseTimeout, zero.For(Initializing))
	require.Zero(t, zero.For(Ready))
	require.Zero(t, zero.For(Degraded))

	custom := Timeouts{
		Default:  3 * time.Second,
		PerState: map[State]time.Duration{LoadingLayers: time.Second},
	}
	require.Equal(t, 3*time.Second, custom.For(Initializing))
	require.Equal(t, time.Second, custom.For(LoadingLayers))

	require.Equal(t, DefaultPhaseTimeout, zero.ForReattach())
	require.Equal(t, 3*time.Second, custom.ForReattach())
	custom.Reattach = 500 * time.Millisecond
	require.Equal(t, 500*time.Millisecond, custom.ForReattach())
}

func TestStateDecodingRejectsUnknownNames(t *testing.T) {
	t.Parallel()

	for _, s := range All {
		require.True(t, s.IsValid())
		raw, err := json.Marshal(s)
		require.NoError(t, err)

		var got State
		require.NoError(t, json.Unmarshal(raw, &got))
		require.Equal(t, s, got)
	}

	var got State
	require.ErrorContains(t, json.Unmarshal([]byte(`"BOOTING"`), &got), "unknown lifecycle state")
	require.ErrorContains(t, json.Unmarshal([]byte(`""`), &got), "unknown lifecycle state")
	require.Empty(t, got)
}
