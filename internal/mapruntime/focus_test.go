package mapruntime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/style"
)

func TestFocusConfig_Normalize(t *testing.T) {
	t.Parallel()

	f := FocusConfig{OnlySelected: true, OnlyIssues: true, SelectedID: "v1"}.Normalize()
	require.True(t, f.OnlySelected)
	require.False(t, f.OnlyIssues)

	f = FocusConfig{OnlyIssues: true, SelectedID: "v1"}.Normalize()
	require.Empty(t, f.SelectedID)

	require.False(t, FocusConfig{OnlySelected: true}.Active())
	require.True(t, FocusConfig{OnlyIssues: true}.Active())
	require.False(t, FocusConfig{}.Active())
}

func TestFocusOpacity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		focus FocusConfig
		props map[string]any
		want  float64
	}{
		{"off", FocusConfig{}, map[string]any{layers.PropFocusID: "v1"}, 1},
		{"selected match", FocusConfig{OnlySelected: true, SelectedID: "v1"}, map[string]any{layers.PropFocusID: "v1"}, 1},
		{"selected other", FocusConfig{OnlySelected: true, SelectedID: "v1"}, map[string]any{layers.PropFocusID: "v9"}, DimOpacity},
		{"selected without id", FocusConfig{OnlySelected: true}, map[string]any{layers.PropFocusID: "v9"}, 1},
		{"issues distress", FocusConfig{OnlyIssues: true}, map[string]any{layers.PropStatus: "emergency"}, 1},
		{"issues healthy", FocusConfig{OnlyIssues: true}, map[string]any{layers.PropStatus: "idle"}, DimOpacity},
		{"selected wins", FocusConfig{OnlySelected: true, OnlyIssues: true, SelectedID: "v1"}, map[string]any{layers.PropFocusID: "v2", layers.PropStatus: "breakdown"}, DimOpacity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := style.EvaluateFloat(FocusOpacity(tc.focus), tc.props)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
