package demo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/fleetmap/pkg/feed"
)

func TestStepIsDeterministicPerSeed(t *testing.T) {
	t.Parallel()

	a := New(Config{Seed: 42, Vehicles: 5}, nil)
	b := New(Config{Seed: 42, Vehicles: 5}, nil)
	c := New(Config{Seed: 43, Vehicles: 5}, nil)

	for i := 0; i < 20; i++ {
		sa, sb := a.Step(), b.Step()
		require.Equal(t, sa, sb)
	}
	require.NotEqual(t, a.State().Entities, c.State().Entities)
}

func TestStepShape(t *testing.T) {
	t.Parallel()

	e := New(Config{Seed: 7, Vehicles: 3}, nil)

	first := e.Step()
	require.Len(t, first.Vehicles, 3)
	require.Len(t, first.Zones, 1)
	require.Len(t, first.Zones[0].Ring, 4)
	// A single position is not a trail yet.
	require.Empty(t, first.Routes)

	second := e.Step()
	require.Nil(t, second.Zones)
	for _, r := range second.Routes {
		require.GreaterOrEqual(t, len(r.Path), 2)
		require.NotEmpty(t, r.VehicleID)
	}

	for i := 0; i < 2*trailLength; i++ {
		e.Step()
	}
	for _, r := range e.Step().Routes {
		require.LessOrEqual(t, len(r.Path), trailLength)
	}
	require.EqualValues(t, 2*trailLength+3, e.State().Ticks)
}

func TestVehiclesStayNearCenter(t *testing.T) {
	t.Parallel()

	cfg := Config{Seed: 3, Vehicles: 8, Spread: 0.02, DistressRate: 0.2}
	e := New(cfg, nil)
	for i := 0; i < 500; i++ {
		e.Step()
	}
	eff := e.Config()
	for _, v := range e.State().Entities {
		require.Less(t, dist(v.Position, eff.Center), 3*eff.Spread, v.ID)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		snaps []feed.Snapshot
	)
	sink := func(_ context.Context, s feed.Snapshot) error {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
		return nil
	}

	e := New(Config{Interval: 5 * time.Millisecond, Vehicles: 2}, sink)
	require.True(t, e.Start())
	require.False(t, e.Start())
	require.True(t, e.State().Running)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	e.Stop()
	e.Stop()
	require.False(t, e.Running())

	mu.Lock()
	n := len(snaps)
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Equal(t, n, len(snaps))
	mu.Unlock()

	// Restart keeps the simulated fleet.
	require.True(t, e.Start())
	e.Stop()
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.WithDefaults()
	require.Equal(t, DefaultInterval, cfg.Interval)
	require.Equal(t, DefaultVehicles, cfg.Vehicles)
	require.Equal(t, DefaultCenter, cfg.Center)
	require.Equal(t, cfg, cfg.WithDefaults())
}
