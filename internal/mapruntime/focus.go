package mapruntime

import (
	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/style"
	"github.com/bhandras/fleetmap/pkg/feed"
)

// DimOpacity is the opacity of de-emphasized entities in focus mode.
const DimOpacity = 0.2

// FocusConfig selects the focus-mode emphasis. OnlySelected and OnlyIssues
// are mutually exclusive; when both are set OnlySelected wins.
type FocusConfig struct {
	OnlySelected bool   `json:"onlySelected"`
	OnlyIssues   bool   `json:"onlyIssues"`
	SelectedID   string `json:"selectedId,omitempty"`
}

// Normalize resolves conflicting flags.
func (f FocusConfig) Normalize() FocusConfig {
	if f.OnlySelected && f.OnlyIssues {
		f.OnlyIssues = false
	}
	if !f.OnlySelected {
		f.SelectedID = ""
	}
	return f
}

// Active reports whether any emphasis is applied.
func (f FocusConfig) Active() bool {
	f = f.Normalize()
	return (f.OnlySelected && f.SelectedID != "") || f.OnlyIssues
}

// FocusOpacity computes the opacity expression for f. Features are matched by
// their focus id (a route shares the id of its vehicle) or status.
func FocusOpacity(f FocusConfig) style.Expression {
	f = f.Normalize()
	switch {
	case f.OnlySelected && f.SelectedID != "":
		return style.Case(
			style.Eq(style.Get(layers.PropFocusID), f.SelectedID),
			1.0, DimOpacity,
		)
	case f.OnlyIssues:
		distress := make([]string, len(feed.DistressStatuses))
		for i, s := range feed.DistressStatuses {
			distress[i] = string(s)
		}
		return style.Case(
			style.In(style.Get(layers.PropStatus), distress...),
			1.0, DimOpacity,
		)
	default:
		return 1.0
	}
}
