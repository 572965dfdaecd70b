package feed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusIsDistress(t *testing.T) {
	require.True(t, StatusBreakdown.IsDistress())
	require.True(t, StatusDelayed.IsDistress())
	require.False(t, StatusActive.IsDistress())
	require.False(t, Status("").IsDistress())
}

func TestSnapshotMergeKeepsUntouchedLayers(t *testing.T) {
	first := Snapshot{
		Vehicles: []Vehicle{{ID: "v1"}},
		Zones:    []Zone{{ID: "z1"}},
	}
	second := Snapshot{
		Vehicles: []Vehicle{{ID: "v2"}},
		Routes:   []Route{},
	}

	merged := first.Merge(second)
	require.Equal(t, []Vehicle{{ID: "v2"}}, merged.Vehicles)
	require.NotNil(t, merged.Routes)
	require.Empty(t, merged.Routes)
	require.Equal(t, []Zone{{ID: "z1"}}, merged.Zones)
	require.False(t, merged.IsEmpty())
	require.True(t, Snapshot{}.IsEmpty())
}
