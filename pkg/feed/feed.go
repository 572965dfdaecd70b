// Package feed defines the typed entity snapshots that business-side
// collaborators push into the map runtime.
//
// The runtime does not interpret the business meaning of these records beyond
// an id, a geographic position or geometry, and a status.
package feed

// LngLat is a WGS84 coordinate in GeoJSON order (longitude first).
type LngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Status is the operational status of an entity.
type Status string

const (
	StatusActive      Status = "active"
	StatusIdle        Status = "idle"
	StatusEnRoute     Status = "en_route"
	StatusDelayed     Status = "delayed"
	StatusBreakdown   Status = "breakdown"
	StatusOffline     Status = "offline"
	StatusEmergency   Status = "emergency"
	StatusMaintenance Status = "maintenance"
)

// DistressStatuses is the fixed set of statuses that count as an issue for
// focus mode.
var DistressStatuses = []Status{
	StatusDelayed,
	StatusBreakdown,
	StatusOffline,
	StatusEmergency,
}

// IsDistress reports whether s is one of DistressStatuses.
func (s Status) IsDistress() bool {
	for _, d := range DistressStatuses {
		if s == d {
			return true
		}
	}
	return false
}

// Vehicle is a moving entity rendered as a point.
type Vehicle struct {
	ID       string  `json:"id"`
	Label    string  `json:"label,omitempty"`
	Position LngLat  `json:"position"`
	Heading  float64 `json:"heading,omitempty"`
	Status   Status  `json:"status"`
}

// Route is a planned or travelled path.
type Route struct {
	ID        string   `json:"id"`
	VehicleID string   `json:"vehicleId,omitempty"`
	Path      []LngLat `json:"path"`
	Status    Status   `json:"status"`
}

// Zone is a closed polygon such as a depot perimeter or a service area.
type Zone struct {
	ID     string   `json:"id"`
	Name   string   `json:"name,omitempty"`
	Kind   string   `json:"kind,omitempty"`
	Ring   []LngLat `json:"ring"`
	Status Status   `json:"status,omitempty"`
}

// Snapshot is one delivery from the entity feed.
//
// A nil slice means "no change for that layer"; an empty non-nil slice clears
// the layer.
type Snapshot struct {
	Vehicles []Vehicle `json:"vehicles,omitempty"`
	Routes   []Route   `json:"routes,omitempty"`
	Zones    []Zone    `json:"zones,omitempty"`
}

// IsEmpty reports whether the snapshot carries no layer data at all.
func (s Snapshot) IsEmpty() bool {
	return s.Vehicles == nil && s.Routes == nil && s.Zones == nil
}

// Merge returns s overlaid with next: every layer present in next replaces the
// one in s. Since each layer update replaces its source wholesale, applying
// Merge(a, b) is equivalent to applying a then b.
func (s Snapshot) Merge(next Snapshot) Snapshot {
	out := s
	if next.Vehicles != nil {
		out.Vehicles = next.Vehicles
	}
	if next.Routes != nil {
		out.Routes = next.Routes
	}
	if next.Zones != nil {
		out.Zones = next.Zones
	}
	return out
}
