// Package demo implements the simulated fleet feed.
//
// The generator walks a fixed number of vehicles around a center point on a
// timer and posts each tick as a feed.Snapshot into a Sink. It is owned by
// the map runtime, never by a view, so navigating between views does not
// restart it.
package demo

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bhandras/fleetmap/pkg/feed"
	"github.com/bhandras/fleetmap/pkg/logger"
)

const (
	DefaultInterval     = time.Second
	DefaultVehicles     = 12
	DefaultSpread       = 0.05
	DefaultDistressRate = 0.05
	trailLength         = 6
)

// DefaultCenter is used when Config.Center is the zero value.
var DefaultCenter = feed.LngLat{Lng: 13.405, Lat: 52.52}

// Config parameterizes the generator. The zero value selects defaults; Config
// is comparable so the runtime can detect a re-enable with identical settings.
type Config struct {
	Interval time.Duration `json:"interval,omitempty" toml:"interval"`
	Seed     int64         `json:"seed,omitempty" toml:"seed"`
	Vehicles int           `json:"vehicles,omitempty" toml:"vehicles"`
	Center   feed.LngLat   `json:"center,omitempty" toml:"center"`
	// Spread is the radius of the start area in degrees.
	Spread float64 `json:"spread,omitempty" toml:"spread"`
	// DistressRate is the per-tick probability that a vehicle changes status.
	DistressRate float64 `json:"distressRate,omitempty" toml:"distress_rate"`
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.Vehicles <= 0 {
		c.Vehicles = DefaultVehicles
	}
	if c.Center == (feed.LngLat{}) {
		c.Center = DefaultCenter
	}
	if c.Spread <= 0 {
		c.Spread = DefaultSpread
	}
	if c.DistressRate <= 0 {
		c.DistressRate = DefaultDistressRate
	}
	return c
}

// State is a copy of the generator state.
type State struct {
	Running  bool           `json:"running"`
	Seed     int64          `json:"seed"`
	Ticks    int64          `json:"ticks"`
	Entities []feed.Vehicle `json:"entities,omitempty"`
}

// Sink receives generated snapshots. It must not block for long; the
// generator waits for it before the next tick.
type Sink func(ctx context.Context, snap feed.Snapshot) error

// Engine is the demo generator.
type Engine struct {
	cfg  Config
	sink Sink

	mu       sync.Mutex
	rng      *rand.Rand
	vehicles []feed.Vehicle
	trails   map[string][]feed.LngLat
	ticks    int64
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New returns a stopped generator. The fleet is seeded deterministically
// from cfg.Seed.
func New(cfg Config, sink Sink) *Engine {
	cfg = cfg.WithDefaults()
	e := &Engine{
		cfg:    cfg,
		sink:   sink,
		rng:    rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15)),
		trails: make(map[string][]feed.LngLat, cfg.Vehicles),
	}
	e.vehicles = make([]feed.Vehicle, cfg.Vehicles)
	for i := range e.vehicles {
		angle := e.rng.Float64() * 2 * math.Pi
		dist := e.rng.Float64() * cfg.Spread
		e.vehicles[i] = feed.Vehicle{
			ID:    fmt.Sprintf("demo-%02d", i+1),
			Label: fmt.Sprintf("Unit %d", i+1),
			Position: feed.LngLat{
				Lng: cfg.Center.Lng + dist*math.Cos(angle),
				Lat: cfg.Center.Lat + dist*math.Sin(angle),
			},
			Heading: angle * 180 / math.Pi,
			Status:  feed.StatusActive,
		}
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Start launches the ticker goroutine. It returns false if already running.
func (e *Engine) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx, e.done)
	logger.Infof("demo: started (seed=%d vehicles=%d interval=%s)", e.cfg.Seed, e.cfg.Vehicles, e.cfg.Interval)
	return true
}

// Stop halts the generator and waits for the ticker goroutine to exit. It is
// idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	cancel()
	<-done
	logger.Infof("demo: stopped")
}

// Running reports whether the ticker goroutine is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// State returns a copy of the generator state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Running:  e.running,
		Seed:     e.cfg.Seed,
		Ticks:    e.ticks,
		Entities: append([]feed.Vehicle(nil), e.vehicles...),
	}
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := e.Step()
			if e.sink == nil {
				continue
			}
			if err := e.sink(ctx, snap); err != nil && ctx.Err() == nil {
				logger.Debugf("demo: sink rejected snapshot: %v", err)
			}
		}
	}
}

// Step advances the simulation by one tick and returns the snapshot. The
// first step also carries the depot zone.
func (e *Engine) Step() feed.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ticks++
	for i := range e.vehicles {
		e.moveLocked(&e.vehicles[i])
	}

	snap := feed.Snapshot{
		Vehicles: append([]feed.Vehicle(nil), e.vehicles...),
		Routes:   make([]feed.Route, 0, len(e.vehicles)),
	}
	for _, v := range e.vehicles {
		trail := e.trails[v.ID]
		if len(trail) < 2 {
			continue
		}
		snap.Routes = append(snap.Routes, feed.Route{
			ID:        "trail-" + v.ID,
			VehicleID: v.ID,
			Path:      append([]feed.LngLat(nil), trail...),
			Status:    v.Status,
		})
	}
	if e.ticks == 1 {
		snap.Zones = []feed.Zone{e.depotLocked()}
	}
	return snap
}

func (e *Engine) moveLocked(v *feed.Vehicle) {
	if e.rng.Float64() < e.cfg.DistressRate {
		v.Status = e.nextStatusLocked(v.Status)
	}

	switch v.Status {
	case feed.StatusBreakdown, feed.StatusOffline, feed.StatusMaintenance:
		// Stationary.
	default:
		v.Heading = math.Mod(v.Heading+(e.rng.Float64()-0.5)*40+360, 360)
		step := e.cfg.Spread / 50
		if v.Status == feed.StatusDelayed {
			step /= 3
		}
		rad := v.Heading * math.Pi / 180
		v.Position.Lng += step * math.Cos(rad)
		v.Position.Lat += step * math.Sin(rad)
		// Pull vehicles that drift too far back towards the center.
		if dist(v.Position, e.cfg.Center) > 2*e.cfg.Spread {
			v.Heading = math.Mod(bearing(v.Position, e.cfg.Center)+360, 360)
		}
	}

	trail := append(e.trails[v.ID], v.Position)
	if len(trail) > trailLength {
		trail = trail[len(trail)-trailLength:]
	}
	e.trails[v.ID] = trail
}

// nextStatusLocked moves healthy vehicles into a distress status and lets
// distressed vehicles recover.
func (e *Engine) nextStatusLocked(cur feed.Status) feed.Status {
	if cur.IsDistress() || cur == feed.StatusMaintenance {
		if e.rng.IntN(2) == 0 {
			return feed.StatusActive
		}
		return feed.StatusEnRoute
	}
	return feed.DistressStatuses[e.rng.IntN(len(feed.DistressStatuses))]
}

func (e *Engine) depotLocked() feed.Zone {
	c, r := e.cfg.Center, e.cfg.Spread/5
	return feed.Zone{
		ID:   "demo-depot",
		Name: "Depot",
		Kind: "depot",
		Ring: []feed.LngLat{
			{Lng: c.Lng - r, Lat: c.Lat - r},
			{Lng: c.Lng + r, Lat: c.Lat - r},
			{Lng: c.Lng + r, Lat: c.Lat + r},
			{Lng: c.Lng - r, Lat: c.Lat + r},
		},
		Status: feed.StatusActive,
	}
}

func dist(a, b feed.LngLat) float64 {
	return math.Hypot(a.Lng-b.Lng, a.Lat-b.Lat)
}

// bearing returns the heading in degrees (math convention) from a to b.
func bearing(a, b feed.LngLat) float64 {
	return math.Atan2(b.Lat-a.Lat, b.Lng-a.Lng) * 180 / math.Pi
}
