package bridge

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/mapruntime"
	"github.com/bhandras/fleetmap/pkg/feed"
)

// ModeRequest is the body of POST /v1/mode.
type ModeRequest struct {
	Density string `json:"density" binding:"required"`
}

// CapabilityRequest is the body of POST /v1/capability.
type CapabilityRequest struct {
	Capability string `json:"capability" binding:"required"`
}

// DemoRequest is the optional body of POST /v1/demo. Zero fields keep the
// configured defaults.
type DemoRequest struct {
	// Interval is a Go duration string ("500ms").
	Interval     string  `json:"interval"`
	Seed         *int64  `json:"seed"`
	Vehicles     int     `json:"vehicles"`
	Spread       float64 `json:"spread"`
	DistressRate float64 `json:"distressRate"`
}

// ViewInfo describes a connected view.
type ViewInfo struct {
	ContainerID string `json:"containerId"`
	View        string `json:"view"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Dropped     int64  `json:"dropped"`
	Resyncs     int64  `json:"resyncs"`
}

// GetStatus handles GET /v1/status
func (s *Server) GetStatus(c *gin.Context) {
	st, err := s.rt.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListViews handles GET /v1/views
func (s *Server) ListViews(c *gin.Context) {
	s.mu.Lock()
	result := make([]ViewInfo, 0, len(s.views))
	for _, v := range s.views {
		result = append(result, v.info())
	}
	s.mu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ContainerID < result[j].ContainerID })
	c.JSON(http.StatusOK, gin.H{"views": result})
}

// PostSnapshot handles POST /v1/snapshot
func (s *Server) PostSnapshot(c *gin.Context) {
	var snap feed.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid snapshot"})
		return
	}
	if err := s.rt.Update(c.Request.Context(), snap); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// PostMode handles POST /v1/mode
func (s *Server) PostMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := s.rt.SetMode(c.Request.Context(), layers.Density(req.Density)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PostCapability handles POST /v1/capability
func (s *Server) PostCapability(c *gin.Context) {
	var req CapabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := s.rt.SetCapability(c.Request.Context(), layers.Capability(req.Capability)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PostFocus handles POST /v1/focus
func (s *Server) PostFocus(c *gin.Context) {
	var req mapruntime.FocusConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := s.rt.ApplyFocusMode(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "focus": req.Normalize()})
}

// PostDemo handles POST /v1/demo
//
// An empty body starts the generator with the configured defaults.
func (s *Server) PostDemo(c *gin.Context) {
	var req DemoRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid demo config"})
		return
	}

	cfg := s.opts.Demo
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interval"})
			return
		}
		cfg.Interval = d
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if req.Vehicles > 0 {
		cfg.Vehicles = req.Vehicles
	}
	if req.Spread > 0 {
		cfg.Spread = req.Spread
	}
	if req.DistressRate > 0 {
		cfg.DistressRate = req.DistressRate
	}
	if err := s.rt.EnableDemoMode(c.Request.Context(), cfg); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteDemo handles DELETE /v1/demo
func (s *Server) DeleteDemo(c *gin.Context) {
	if err := s.rt.DisableDemoMode(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PostRetry handles POST /v1/retry
func (s *Server) PostRetry(c *gin.Context) {
	if err := s.rt.Retry(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}
