package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bhandras/fleetmap/internal/bridge"
	"github.com/bhandras/fleetmap/internal/config"
	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/lifecycle"
	"github.com/bhandras/fleetmap/internal/mapruntime"
	"github.com/bhandras/fleetmap/internal/scene"
	"github.com/bhandras/fleetmap/internal/store"
	"github.com/bhandras/fleetmap/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Errorf("fleetmap: %v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	overrides, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetJSON(cfg.JSONLogs)
	logger.SetLevel(cfg.LogLevel)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var prefs mapruntime.Preferences
	if cfg.DatabasePath != "" {
		logger.Infof("Opening database: %s", cfg.DatabasePath)
		db, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()
		prefs = store.NewPreferences(db, cfg.Profile)
	}

	factory := scene.NewFactory(scene.Options{
		LoadDelay:   cfg.LoadDelay,
		ResizeDelay: cfg.ResizeDelay,
	})
	rt, err := mapruntime.New(ctx, mapruntime.Options{
		Factory:     factory.Create,
		Preferences: prefs,
		Camera:      cfg.Camera,
		Mode:        cfg.Mode,
		Timeouts:    cfg.Timeouts(),
		MaxDeferred: cfg.MaxDeferred,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Prewarm {
		if err := prewarm(ctx, rt, cfg.PhaseTimeout); err != nil {
			logger.Warnf("Prewarm failed: %v", err)
		}
	}
	if cfg.Demo {
		go startDemoWhenReady(ctx, rt, cfg)
	}

	srv := bridge.New(rt, bridge.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Demo:           cfg.DemoOptions,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("fleetmap listening on http://localhost%s", cfg.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		logger.Infof("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Views first so their releases reach a live runtime, then the engine.
	srv.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP shutdown: %v", err)
	}
	if err := rt.Destroy(shutdownCtx); err != nil {
		logger.Warnf("Runtime destroy: %v", err)
	}
	return nil
}

func parseFlags(args []string) (config.Overrides, error) {
	fs := flag.NewFlagSet("fleetmap", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "", "TOML config file")
	addr := fs.String("addr", "", "HTTP listen address")
	dbPath := fs.String("db", "", "SQLite preferences database")
	profile := fs.String("profile", "", "Preferences profile")
	logLevel := fs.String("log-level", "", "Log level (trace|debug|info|warn|error)")
	debug := fs.Bool("debug", false, "Enable debug logging and gin debug mode")
	demo := fs.Bool("demo", false, "Start the demo generator once the map is ready")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return config.Overrides{}, err
	}
	if *showHelp {
		fs.SetOutput(os.Stdout)
		fmt.Println("Usage: fleetmap [flags]")
		fs.PrintDefaults()
		return config.Overrides{}, flag.ErrHelp
	}

	var o config.Overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			o.ConfigPath = configPath
		case "addr":
			o.Addr = addr
		case "db":
			o.DatabasePath = dbPath
		case "profile":
			o.Profile = profile
		case "log-level":
			o.LogLevel = logLevel
		case "debug":
			o.Debug = debug
		case "demo":
			o.Demo = demo
		}
	})
	return o, nil
}

// prewarm bootstraps the engine on a headless container and parks it.
func prewarm(ctx context.Context, rt *mapruntime.Runtime, timeout time.Duration) error {
	headless := &engine.Container{ID: "prewarm", View: "headless"}
	if err := rt.Initialize(ctx, headless); err != nil {
		return err
	}

	// Each of the three async phases has its own deadline.
	waitCtx, cancel := context.WithTimeout(ctx, 3*timeout)
	defer cancel()
	s, err := rt.WaitFor(waitCtx, mapruntime.InState(lifecycle.Ready, lifecycle.Degraded))
	if err != nil {
		return err
	}
	if s.Current() == lifecycle.Degraded {
		return s.DegradedErr
	}
	logger.Infof("Engine prewarmed")
	return rt.Release(ctx, headless.ID)
}

func startDemoWhenReady(ctx context.Context, rt *mapruntime.Runtime, cfg *config.Config) {
	_, err := rt.WaitFor(ctx, func(s mapruntime.State) bool { return s.ReadyOnce })
	if err != nil {
		return
	}
	if err := rt.EnableDemoMode(ctx, cfg.DemoOptions); err != nil {
		logger.Warnf("Demo start: %v", err)
		return
	}
	logger.Infof("Demo generator started (%d vehicles every %s)", cfg.DemoOptions.Vehicles, cfg.DemoOptions.Interval)
}
