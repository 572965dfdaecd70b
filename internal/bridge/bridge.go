// Package bridge is the thin UI gateway in front of the map runtime.
//
// Views connect over a websocket; each connection is one host container. A
// connect mounts the container (Reattach) and a disconnect unmounts it
// (Release). The HTTP API issues runtime commands. Nothing here touches the
// engine directly.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/bhandras/fleetmap/internal/demo"
	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/mapruntime"
	"github.com/bhandras/fleetmap/pkg/feed"
)

// Runtime is the runtime API the bridge drives.
type Runtime interface {
	Reattach(ctx context.Context, c *engine.Container) error
	Release(ctx context.Context, containerID string) error
	Resync(ctx context.Context, containerID string) error
	Retry(ctx context.Context) error
	SetMode(ctx context.Context, d layers.Density) error
	SetCapability(ctx context.Context, c layers.Capability) error
	ApplyFocusMode(ctx context.Context, f mapruntime.FocusConfig) error
	Update(ctx context.Context, snap feed.Snapshot) error
	EnableDemoMode(ctx context.Context, cfg demo.Config) error
	DisableDemoMode(ctx context.Context) error
	Status(ctx context.Context) (mapruntime.Status, error)
}

var _ Runtime = (*mapruntime.Runtime)(nil)

// Options configure a Server.
type Options struct {
	// AllowedOrigins feeds CORS and the websocket origin check. "*" allows
	// any origin.
	AllowedOrigins []string
	// Demo is the generator config used when POST /v1/demo has no body.
	Demo demo.Config
	// SurfaceBuffer bounds the queued draw operations per view.
	SurfaceBuffer int
}

// Server serves the HTTP API and the view websockets.
type Server struct {
	rt       Runtime
	opts     Options
	upgrader websocket.Upgrader

	mu     sync.Mutex
	views  map[string]*view
	closed bool
	wg     sync.WaitGroup
}

// New returns a server driving rt.
func New(rt Runtime, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.SurfaceBuffer <= 0 {
		opts.SurfaceBuffer = defaultSurfaceBuffer
	}
	s := &Server{
		rt:    rt,
		opts:  opts,
		views: make(map[string]*view),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     s.opts.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !allowsAny(s.opts.AllowedOrigins),
	}))
	router.Use(LoggingMiddleware())

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "fleetmap")
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/status", s.GetStatus)
		v1.GET("/views", s.ListViews)
		v1.POST("/snapshot", s.PostSnapshot)
		v1.POST("/mode", s.PostMode)
		v1.POST("/capability", s.PostCapability)
		v1.POST("/focus", s.PostFocus)
		v1.POST("/demo", s.PostDemo)
		v1.DELETE("/demo", s.DeleteDemo)
		v1.POST("/retry", s.PostRetry)
		v1.GET("/views/:view/ws", s.HandleView)
	}
	return router
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Close disconnects every view and waits for their handlers to release
// their containers. Views connecting after Close are refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	views := make([]*view, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	s.mu.Unlock()

	for _, v := range views {
		v.close()
	}
	s.wg.Wait()
}

// errorStatus maps runtime errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, layers.ErrUnknownDensity), errors.Is(err, layers.ErrUnknownCapability):
		return http.StatusBadRequest
	case errors.Is(err, mapruntime.ErrDestroyed):
		return http.StatusGone
	case errors.Is(err, mapruntime.ErrDeferredQueueFull), errors.Is(err, mapruntime.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, mapruntime.ErrNotReady),
		errors.Is(err, mapruntime.ErrNotDegraded),
		errors.Is(err, mapruntime.ErrNoContainer),
		errors.Is(err, mapruntime.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}
