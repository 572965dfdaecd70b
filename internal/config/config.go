// Package config loads the fleetmap service configuration.
//
// Values are resolved in order: built-in defaults, an optional TOML file,
// FLEETMAP_* environment variables, then explicit Overrides (flags).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bhandras/fleetmap/internal/demo"
	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/lifecycle"
	"github.com/bhandras/fleetmap/pkg/feed"
	"github.com/bhandras/fleetmap/pkg/logger"
)

// Config holds service configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string
	// DatabasePath is the SQLite file holding viewport preferences. Empty
	// disables persistence.
	DatabasePath string
	// Profile selects the preferences row.
	Profile        string
	LogLevel       logger.Level
	JSONLogs       bool
	Debug          bool
	AllowedOrigins []string

	// Mode and Camera apply when no preferences were saved.
	Mode   layers.ModeConfig
	Camera engine.Camera

	// PhaseTimeout bounds each async bootstrap phase.
	PhaseTimeout time.Duration
	// ReattachTimeout bounds the resize of a reattachment.
	ReattachTimeout time.Duration
	MaxDeferred     int
	// Prewarm bootstraps the engine on a headless container at startup and
	// parks it, so the first view mounts on the fast path.
	Prewarm bool

	// Demo starts the demo generator once the runtime first becomes ready.
	Demo        bool
	DemoOptions demo.Config

	// Scene tunes the built-in engine.
	LoadDelay   time.Duration
	ResizeDelay time.Duration
}

// Timeouts returns the lifecycle phase deadlines.
func (c *Config) Timeouts() lifecycle.Timeouts {
	return lifecycle.Timeouts{Default: c.PhaseTimeout, Reattach: c.ReattachTimeout}
}

// Overrides optionally overrides values from the file and environment.
//
// A nil pointer means "use the file/environment/default value".
type Overrides struct {
	// ConfigPath points at a TOML file; it takes precedence over
	// FLEETMAP_CONFIG.
	ConfigPath   *string
	Addr         *string
	DatabasePath *string
	Profile      *string
	LogLevel     *string
	Debug        *bool
	Demo         *bool
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:           ":3010",
		DatabasePath:   "./fleetmap.db",
		Profile:        "default",
		LogLevel:       logger.LevelInfo,
		AllowedOrigins: []string{"*"},
		Mode:           layers.DefaultMode,
		Camera: engine.Camera{
			Center: feed.LngLat{Lng: 13.405, Lat: 52.52},
			Zoom:   11,
		},
		PhaseTimeout:    lifecycle.DefaultPhaseTimeout,
		ReattachTimeout: 5 * time.Second,
		MaxDeferred:     64,
		DemoOptions:     demo.Config{}.WithDefaults(),
	}
}

// Load resolves the configuration.
func Load(overrides Overrides) (*Config, error) {
	cfg := Default()

	path := getenvFirst("FLEETMAP_CONFIG", "")
	if overrides.ConfigPath != nil {
		path = *overrides.ConfigPath
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if overrides.Addr != nil {
		cfg.Addr = *overrides.Addr
	}
	if overrides.DatabasePath != nil {
		cfg.DatabasePath = *overrides.DatabasePath
	}
	if overrides.Profile != nil {
		cfg.Profile = *overrides.Profile
	}
	if overrides.LogLevel != nil {
		lvl, err := logger.ParseLevel(*overrides.LogLevel)
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = lvl
	}
	if overrides.Debug != nil {
		cfg.Debug = *overrides.Debug
	}
	if overrides.Demo != nil {
		cfg.Demo = *overrides.Demo
	}

	if cfg.Debug && cfg.LogLevel > logger.LevelDebug {
		cfg.LogLevel = logger.LevelDebug
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, err := layers.ParseDensity(string(c.Mode.Density)); err != nil {
		return err
	}
	if _, err := layers.ParseCapability(string(c.Mode.Capability)); err != nil {
		return err
	}
	if c.PhaseTimeout <= 0 {
		return fmt.Errorf("phase timeout must be positive, got %s", c.PhaseTimeout)
	}
	if c.MaxDeferred <= 0 {
		return fmt.Errorf("max deferred must be positive, got %d", c.MaxDeferred)
	}
	if c.Camera.Zoom < 0 || c.Camera.Zoom > 24 {
		return fmt.Errorf("zoom %.2f out of range [0, 24]", c.Camera.Zoom)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if addr := os.Getenv("FLEETMAP_ADDR"); addr != "" {
		cfg.Addr = addr
	} else if portStr := os.Getenv("PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			cfg.Addr = fmt.Sprintf(":%d", p)
		}
	}
	if v := getenvFirst("FLEETMAP_DB", "DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("FLEETMAP_PROFILE"); v != "" {
		cfg.Profile = v
	}
	if v := os.Getenv("FLEETMAP_LOG_LEVEL"); v != "" {
		lvl, err := logger.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("FLEETMAP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = lvl
	}
	if v := os.Getenv("FLEETMAP_LOG_JSON"); v != "" {
		cfg.JSONLogs = isTrue(v)
	}
	if v := getenvFirst("FLEETMAP_DEBUG", "DEBUG"); v != "" {
		cfg.Debug = isTrue(v)
	}
	if v := os.Getenv("FLEETMAP_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("FLEETMAP_DENSITY"); v != "" {
		d, err := layers.ParseDensity(v)
		if err != nil {
			return fmt.Errorf("FLEETMAP_DENSITY: %w", err)
		}
		cfg.Mode.Density = d
	}
	if v := os.Getenv("FLEETMAP_CAPABILITY"); v != "" {
		c, err := layers.ParseCapability(v)
		if err != nil {
			return fmt.Errorf("FLEETMAP_CAPABILITY: %w", err)
		}
		cfg.Mode.Capability = c
	}
	if err := envDuration("FLEETMAP_PHASE_TIMEOUT", &cfg.PhaseTimeout); err != nil {
		return err
	}
	if err := envDuration("FLEETMAP_REATTACH_TIMEOUT", &cfg.ReattachTimeout); err != nil {
		return err
	}
	if v := os.Getenv("FLEETMAP_MAX_DEFERRED"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLEETMAP_MAX_DEFERRED: %w", err)
		}
		cfg.MaxDeferred = n
	}
	if v := os.Getenv("FLEETMAP_PREWARM"); v != "" {
		cfg.Prewarm = isTrue(v)
	}
	if v := os.Getenv("FLEETMAP_DEMO"); v != "" {
		cfg.Demo = isTrue(v)
	}
	if err := envDuration("FLEETMAP_DEMO_INTERVAL", &cfg.DemoOptions.Interval); err != nil {
		return err
	}
	if v := os.Getenv("FLEETMAP_DEMO_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FLEETMAP_DEMO_SEED: %w", err)
		}
		cfg.DemoOptions.Seed = seed
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// fileConfig is the TOML layout.
type fileConfig struct {
	Addr           string   `toml:"addr"`
	Database       string   `toml:"database"`
	Profile        string   `toml:"profile"`
	LogLevel       string   `toml:"log_level"`
	JSONLogs       bool     `toml:"json_logs"`
	AllowedOrigins []string `toml:"allowed_origins"`

	Map struct {
		Density         string     `toml:"density"`
		Capability      string     `toml:"capability"`
		Center          [2]float64 `toml:"center"`
		Zoom            float64    `toml:"zoom"`
		PhaseTimeout    Duration   `toml:"phase_timeout"`
		ReattachTimeout Duration   `toml:"reattach_timeout"`
		MaxDeferred     int        `toml:"max_deferred"`
		Prewarm         bool       `toml:"prewarm"`
	} `toml:"map"`

	Demo struct {
		Enabled      bool     `toml:"enabled"`
		Interval     Duration `toml:"interval"`
		Seed         int64    `toml:"seed"`
		Vehicles     int      `toml:"vehicles"`
		Spread       float64  `toml:"spread"`
		DistressRate float64  `toml:"distress_rate"`
	} `toml:"demo"`

	Scene struct {
		LoadDelay   Duration `toml:"load_delay"`
		ResizeDelay Duration `toml:"resize_delay"`
	} `toml:"scene"`
}

// loadFile overlays the keys present in the TOML file at path onto cfg.
func loadFile(cfg *Config, path string) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		logger.Warnf("config: ignoring unknown keys in %s: %v", path, undecoded)
	}

	set := func(key ...string) bool { return md.IsDefined(key...) }

	if set("addr") {
		cfg.Addr = fc.Addr
	}
	if set("database") {
		cfg.DatabasePath = fc.Database
	}
	if set("profile") {
		cfg.Profile = fc.Profile
	}
	if set("log_level") {
		lvl, err := logger.ParseLevel(fc.LogLevel)
		if err != nil {
			return fmt.Errorf("%s: log_level: %w", path, err)
		}
		cfg.LogLevel = lvl
	}
	if set("json_logs") {
		cfg.JSONLogs = fc.JSONLogs
	}
	if set("allowed_origins") {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}

	if set("map", "density") {
		d, err := layers.ParseDensity(fc.Map.Density)
		if err != nil {
			return fmt.Errorf("%s: map.density: %w", path, err)
		}
		cfg.Mode.Density = d
	}
	if set("map", "capability") {
		c, err := layers.ParseCapability(fc.Map.Capability)
		if err != nil {
			return fmt.Errorf("%s: map.capability: %w", path, err)
		}
		cfg.Mode.Capability = c
	}
	if set("map", "center") {
		cfg.Camera.Center = feed.LngLat{Lng: fc.Map.Center[0], Lat: fc.Map.Center[1]}
	}
	if set("map", "zoom") {
		cfg.Camera.Zoom = fc.Map.Zoom
	}
	if set("map", "phase_timeout") {
		cfg.PhaseTimeout = fc.Map.PhaseTimeout.Duration
	}
	if set("map", "reattach_timeout") {
		cfg.ReattachTimeout = fc.Map.ReattachTimeout.Duration
	}
	if set("map", "max_deferred") {
		cfg.MaxDeferred = fc.Map.MaxDeferred
	}

	if set("map", "prewarm") {
		cfg.Prewarm = fc.Map.Prewarm
	}

	if set("demo", "enabled") {
		cfg.Demo = fc.Demo.Enabled
	}
	if set("demo", "interval") {
		cfg.DemoOptions.Interval = fc.Demo.Interval.Duration
	}
	if set("demo", "seed") {
		cfg.DemoOptions.Seed = fc.Demo.Seed
	}
	if set("demo", "vehicles") {
		cfg.DemoOptions.Vehicles = fc.Demo.Vehicles
	}
	if set("demo", "spread") {
		cfg.DemoOptions.Spread = fc.Demo.Spread
	}
	if set("demo", "distress_rate") {
		cfg.DemoOptions.DistressRate = fc.Demo.DistressRate
	}

	if set("scene", "load_delay") {
		cfg.LoadDelay = fc.Scene.LoadDelay.Duration
	}
	if set("scene", "resize_delay") {
		cfg.ResizeDelay = fc.Scene.ResizeDelay.Duration
	}
	return nil
}

func getenvFirst(primary, fallback string) string {
	if val := os.Getenv(primary); val != "" {
		return val
	}
	if fallback == "" {
		return ""
	}
	return os.Getenv(fallback)
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
