package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/mapruntime"
	"github.com/bhandras/fleetmap/pkg/logger"
)

const (
	defaultSurfaceBuffer = 256
	writeWait            = 5 * time.Second
	commandTimeout       = 5 * time.Second
)

var (
	errSurfaceFull  = errors.New("surface buffer full")
	errSurfaceStale = errors.New("surface awaiting resync")
)

// surface implements engine.Surface over a websocket. Send never blocks: ops
// are queued and written by the connection's writer goroutine.
//
// When the queue overflows the surface turns stale: further ops are dropped
// and a resync is requested. The next OpSync replaces everything still
// queued and clears the stale flag.
type surface struct {
	ops     chan engine.Op
	done    chan struct{}
	resync  chan struct{}
	once    sync.Once
	stale   atomic.Bool
	dropped atomic.Int64
	resyncs atomic.Int64
}

func newSurface(buffer int) *surface {
	return &surface{
		ops:    make(chan engine.Op, buffer),
		done:   make(chan struct{}),
		resync: make(chan struct{}, 1),
	}
}

// Send implements engine.Surface.
func (s *surface) Send(op engine.Op) error {
	select {
	case <-s.done:
		return websocket.ErrCloseSent
	default:
	}

	if op.Kind == engine.OpSync {
		s.drain()
		s.stale.Store(false)
	} else if s.stale.Load() {
		s.dropped.Add(1)
		return errSurfaceStale
	}

	select {
	case s.ops <- op:
		return nil
	default:
		s.dropped.Add(1)
		if s.stale.CompareAndSwap(false, true) {
			select {
			case s.resync <- struct{}{}:
			default:
			}
		}
		return errSurfaceFull
	}
}

// drain discards queued ops.
func (s *surface) drain() {
	for {
		select {
		case <-s.ops:
		default:
			return
		}
	}
}

func (s *surface) close() {
	s.once.Do(func() { close(s.done) })
}

// view is one connected websocket, bound to one container.
type view struct {
	id        string
	conn      *websocket.Conn
	container *engine.Container
	surface   *surface
}

func (v *view) info() ViewInfo {
	return ViewInfo{
		ContainerID: v.container.ID,
		View:        v.container.View,
		Width:       v.container.Width,
		Height:      v.container.Height,
		Dropped:     v.surface.dropped.Load(),
		Resyncs:     v.surface.resyncs.Load(),
	}
}

func (v *view) close() {
	v.surface.close()
	_ = v.conn.Close()
}

// ViewMessage is a message sent by a view.
type ViewMessage struct {
	Type string `json:"type"`
	// Width and Height accompany "resize".
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	// Focus accompanies "focus".
	Focus *mapruntime.FocusConfig `json:"focus,omitempty"`
}

// HandleView handles GET /v1/views/:view/ws
//
// The connection lives as long as the view is mounted. Width and height query
// parameters set the initial surface size.
func (s *Server) HandleView(c *gin.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server shutting down"})
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("bridge: websocket upgrade error: %v", err)
		return
	}

	id := uuid.NewString()
	v := &view{
		id:   id,
		conn: conn,
		container: &engine.Container{
			ID:     id,
			View:   c.Param("view"),
			Width:  queryInt(c, "width"),
			Height: queryInt(c, "height"),
		},
		surface: newSurface(s.opts.SurfaceBuffer),
	}
	v.container.Surface = v.surface

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.views[id] = v
	s.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(v)
	}()
	resyncDone := make(chan struct{})
	go func() {
		defer close(resyncDone)
		s.resyncLoop(v)
	}()

	logger.Infof("bridge: view %s connected (container %s)", c.Param("view"), id)

	if err := s.mount(v.container); err != nil {
		logger.Warnf("bridge: mount container %s: %v", id, err)
	}

	s.readLoop(v)

	s.mu.Lock()
	delete(s.views, id)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	if err := s.rt.Release(ctx, id); err != nil {
		logger.Warnf("bridge: release container %s: %v", id, err)
	}
	cancel()

	v.surface.close()
	<-writerDone
	<-resyncDone
	_ = conn.Close()
	logger.Infof("bridge: view %s disconnected (container %s)", c.Param("view"), id)
}

func (s *Server) mount(c *engine.Container) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return s.rt.Reattach(ctx, c)
}

// resyncLoop asks the runtime for a full scene whenever the view's surface
// overflowed.
func (s *Server) resyncLoop(v *view) {
	for {
		select {
		case <-v.surface.done:
			return
		case <-v.surface.resync:
		}

		v.surface.resyncs.Add(1)
		logger.Debugf("bridge: view %s overflowed (%d dropped), resyncing", v.id, v.surface.dropped.Load())
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		if err := s.rt.Resync(ctx, v.id); err != nil {
			logger.Warnf("bridge: resync container %s: %v", v.id, err)
		}
		cancel()
	}
}

func (s *Server) readLoop(v *view) {
	for {
		var msg ViewMessage
		if err := v.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("bridge: view %s read: %v", v.id, err)
			}
			return
		}
		s.handleMessage(v, msg)
	}
}

func (s *Server) handleMessage(v *view, msg ViewMessage) {
	switch msg.Type {
	case "resize":
		// Containers are immutable once handed to the runtime; a resize
		// remounts a copy with the same id.
		next := *v.container
		next.Width, next.Height = msg.Width, msg.Height
		s.mu.Lock()
		v.container = &next
		s.mu.Unlock()
		if err := s.mount(&next); err != nil {
			logger.Warnf("bridge: resize container %s: %v", next.ID, err)
		}

	case "focus":
		if msg.Focus == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := s.rt.ApplyFocusMode(ctx, *msg.Focus); err != nil {
			logger.Warnf("bridge: focus from %s: %v", v.id, err)
		}

	case "ping":

	default:
		logger.Debugf("bridge: unknown view message type: %s", msg.Type)
	}
}

func (s *Server) writeLoop(v *view) {
	for {
		select {
		case <-v.surface.done:
			_ = v.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		case op := <-v.surface.ops:
			data, err := json.Marshal(op)
			if err != nil {
				logger.Warnf("bridge: marshal %s op: %v", op.Kind, err)
				continue
			}
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debugf("bridge: write to %s: %v", v.id, err)
				v.close()
				return
			}
		}
	}
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
