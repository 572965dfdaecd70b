package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bhandras/fleetmap/internal/engine"
	"github.com/bhandras/fleetmap/internal/layers"
	"github.com/bhandras/fleetmap/internal/lifecycle"
	"github.com/bhandras/fleetmap/internal/mapruntime"
	"github.com/bhandras/fleetmap/internal/scene"
)

type testServer struct {
	srv     *Server
	http    *httptest.Server
	rt      *mapruntime.Runtime
	factory *scene.Factory
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	factory := scene.NewFactory(scene.Options{})
	rt, err := mapruntime.New(context.Background(), mapruntime.Options{Factory: factory.Create})
	require.NoError(t, err)

	srv := New(rt, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		rt.Close()
	})
	return &testServer{srv: srv, http: ts, rt: rt, factory: factory}
}

type statusBody struct {
	State       lifecycle.State `json:"state"`
	ContainerID string          `json:"containerId"`
	Deferred    int             `json:"deferred"`
}

func (ts *testServer) status(t *testing.T) statusBody {
	t.Helper()
	resp, err := http.Get(ts.http.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body statusBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func (ts *testServer) waitState(t *testing.T, state lifecycle.State) statusBody {
	t.Helper()
	var last statusBody
	require.Eventually(t, func() bool {
		last = ts.status(t)
		return last.State == state
	}, 3*time.Second, 10*time.Millisecond, "want %s", state)
	return last
}

func (ts *testServer) post(t *testing.T, path, body string) int {
	t.Helper()
	resp, err := http.Post(ts.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func (ts *testServer) dial(t *testing.T, view string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + fmt.Sprintf("/v1/views/%s/ws?width=800&height=600", view)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readOp(t *testing.T, conn *websocket.Conn) engine.Op {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var op engine.Op
	require.NoError(t, conn.ReadJSON(&op))
	return op
}

func TestView_ConnectMountsAndDisconnectReleases(t *testing.T) {
	ts := newTestServer(t, Options{})

	conn := ts.dial(t, "operational")
	require.Equal(t, engine.OpSync, readOp(t, conn).Kind)

	st := ts.waitState(t, "READY")
	require.NotEmpty(t, st.ContainerID)

	// Layer setup reaches the view after the sync, then the view is told
	// the map is ready.
	sawLayer, sawReady := false, false
	for i := 0; i < 64 && !sawReady; i++ {
		op := readOp(t, conn)
		switch op.Kind {
		case engine.OpAddLayer:
			sawLayer = true
		case engine.OpStatus:
			sawReady = op.State == string(lifecycle.Ready)
		}
	}
	require.True(t, sawLayer)
	require.True(t, sawReady)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	ts.waitState(t, "DETACHED")
	require.Len(t, ts.factory.Created(), 1)
}

func TestView_StaleDisconnectKeepsNewerMount(t *testing.T) {
	ts := newTestServer(t, Options{})

	first := ts.dial(t, "operational")
	readOp(t, first)
	ts.waitState(t, "READY")

	second := ts.dial(t, "planning")
	require.Equal(t, engine.OpSync, readOp(t, second).Kind)
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.http.URL + "/v1/views")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Views []ViewInfo `json:"views"`
		}
		return json.NewDecoder(resp.Body).Decode(&body) == nil && len(body.Views) == 2
	}, 3*time.Second, 10*time.Millisecond)
	bound := ts.waitState(t, "READY").ContainerID

	// The older view unmounts after the newer one mounted.
	require.NoError(t, first.Close())
	require.Never(t, func() bool {
		return ts.status(t).State != "READY"
	}, 200*time.Millisecond, 20*time.Millisecond)
	require.Equal(t, bound, ts.status(t).ContainerID)

	require.NoError(t, second.Close())
	ts.waitState(t, "DETACHED")
	require.Len(t, ts.factory.Created(), 1)
}

func TestView_ReconnectReusesEngine(t *testing.T) {
	ts := newTestServer(t, Options{})

	for i := 0; i < 5; i++ {
		conn := ts.dial(t, "operational")
		require.Equal(t, engine.OpSync, readOp(t, conn).Kind)
		ts.waitState(t, "READY")
		require.NoError(t, conn.Close())
		ts.waitState(t, "DETACHED")
	}
	require.Len(t, ts.factory.Created(), 1)
	require.Equal(t, 6, ts.factory.Last().Stats().LayersAdded)
}

func TestHTTP_Commands(t *testing.T) {
	ts := newTestServer(t, Options{})

	// Before any view mounted, data is deferred and demo is refused.
	require.Equal(t, http.StatusAccepted, ts.post(t, "/v1/snapshot",
		`{"vehicles":[{"id":"v1","position":{"lng":13.4,"lat":52.5},"status":"active"}]}`))
	require.Equal(t, 1, ts.status(t).Deferred)
	require.Equal(t, http.StatusConflict, ts.post(t, "/v1/demo", ""))
	require.Equal(t, http.StatusConflict, ts.post(t, "/v1/retry", ""))

	conn := ts.dial(t, "operational")
	readOp(t, conn)
	ts.waitState(t, "READY")
	require.Zero(t, ts.status(t).Deferred)

	require.Equal(t, http.StatusOK, ts.post(t, "/v1/mode", `{"density":"minimal"}`))
	require.Equal(t, http.StatusBadRequest, ts.post(t, "/v1/mode", `{"density":"dense"}`))
	require.Equal(t, http.StatusBadRequest, ts.post(t, "/v1/mode", `{}`))
	require.Equal(t, http.StatusOK, ts.post(t, "/v1/capability", `{"capability":"forensic"}`))
	require.Equal(t, http.StatusBadRequest, ts.post(t, "/v1/capability", `{"capability":"strategic"}`))
	require.Equal(t, http.StatusOK, ts.post(t, "/v1/focus", `{"onlySelected":true,"selectedId":"v1"}`))
	require.Equal(t, http.StatusBadRequest, ts.post(t, "/v1/snapshot", `{"vehicles":`))

	st, err := ts.rt.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, layers.ModeConfig{Density: layers.DensityMinimal, Capability: layers.CapabilityForensic}, st.Mode)
	require.Equal(t, "v1", st.Focus.SelectedID)

	require.Equal(t, http.StatusBadRequest, ts.post(t, "/v1/demo", `{"interval":"soon"}`))
	require.Equal(t, http.StatusOK, ts.post(t, "/v1/demo", `{"interval":"20ms","seed":3}`))
	require.True(t, ts.rt.State().Demo.Running)

	req, err := http.NewRequest(http.MethodDelete, ts.http.URL+"/v1/demo", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, ts.rt.State().Demo.Running)
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	_, parseErr := layers.ParseDensity("dense")
	tests := []struct {
		err  error
		want int
	}{
		{parseErr, http.StatusBadRequest},
		{mapruntime.ErrDestroyed, http.StatusGone},
		{fmt.Errorf("wrapped: %w", mapruntime.ErrDeferredQueueFull), http.StatusServiceUnavailable},
		{mapruntime.ErrNotReady, http.StatusConflict},
		{mapruntime.ErrNotDegraded, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, errorStatus(tc.err), tc.err.Error())
	}
}

func TestSurface_DropsWhenFull(t *testing.T) {
	t.Parallel()

	s := newSurface(2)
	require.NoError(t, s.Send(engine.Op{Kind: engine.OpResize}))
	require.NoError(t, s.Send(engine.Op{Kind: engine.OpResize}))
	require.ErrorIs(t, s.Send(engine.Op{Kind: engine.OpResize}), errSurfaceFull)
	require.EqualValues(t, 1, s.dropped.Load())

	// Stale until the next sync, which replaces whatever is queued.
	require.ErrorIs(t, s.Send(engine.Op{Kind: engine.OpPaint}), errSurfaceStale)
	require.EqualValues(t, 2, s.dropped.Load())
	require.Len(t, s.resync, 1)

	require.NoError(t, s.Send(engine.Op{Kind: engine.OpSync}))
	require.Len(t, s.ops, 1)
	require.Equal(t, engine.OpSync, (<-s.ops).Kind)
	require.NoError(t, s.Send(engine.Op{Kind: engine.OpPaint}))

	s.close()
	s.close()
	require.Error(t, s.Send(engine.Op{Kind: engine.OpResize}))
}

// viewModel applies draw ops the way a browser view would and keeps the
// resulting paint properties per layer.
type viewModel struct {
	mu    sync.Mutex
	paint map[string]map[string]any
}

func copyPaint(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *viewModel) apply(op engine.Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch op.Kind {
	case engine.OpSync:
		m.paint = make(map[string]map[string]any)
		for _, l := range op.Scene.Layers {
			m.paint[l.ID] = copyPaint(l.Paint)
		}
	case engine.OpAddLayer:
		m.paint[op.Spec.ID] = copyPaint(op.Spec.Paint)
	case engine.OpRemoveLayer:
		delete(m.paint, op.Layer)
	case engine.OpPaint:
		if m.paint[op.Layer] == nil {
			m.paint[op.Layer] = make(map[string]any)
		}
		m.paint[op.Layer][op.Property] = op.Value
	}
}

func (m *viewModel) matches(doc engine.Document) bool {
	want := make(map[string]map[string]any, len(doc.Layers))
	for _, l := range doc.Layers {
		want[l.ID] = copyPaint(l.Paint)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return reflect.DeepEqual(want, m.paint)
}

func TestView_OverflowedSurfaceResyncs(t *testing.T) {
	ts := newTestServer(t, Options{})

	v := &view{id: "overflow", surface: newSurface(4)}
	v.container = &engine.Container{ID: v.id, View: "operational", Surface: v.surface}
	resyncDone := make(chan struct{})
	go func() {
		defer close(resyncDone)
		ts.srv.resyncLoop(v)
	}()
	t.Cleanup(func() {
		v.surface.close()
		<-resyncDone
	})

	// Nobody drains the surface while the map boots and the mode flips.
	ctx := context.Background()
	require.NoError(t, ts.rt.Reattach(ctx, v.container))
	ts.waitState(t, lifecycle.Ready)
	for i := 0; i < 5; i++ {
		require.NoError(t, ts.rt.SetMode(ctx, layers.DensityMinimal))
		require.NoError(t, ts.rt.SetMode(ctx, layers.DensityEntityRich))
	}
	require.NoError(t, ts.rt.SetMode(ctx, layers.DensityMinimal))
	require.NoError(t, ts.rt.SetCapability(ctx, layers.CapabilityPlanning))
	require.Positive(t, v.surface.dropped.Load())

	model := &viewModel{paint: make(map[string]map[string]any)}
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			case op := <-v.surface.ops:
				model.apply(op)
			}
		}
	}()
	defer func() {
		close(stop)
		<-readerDone
	}()

	eng := ts.factory.Last()
	require.Eventually(t, func() bool {
		return model.matches(eng.Document())
	}, 3*time.Second, 10*time.Millisecond)
	require.Positive(t, v.surface.resyncs.Load())

	model.mu.Lock()
	defer model.mu.Unlock()
	require.Equal(t, 4.0, model.paint[layers.VehiclesCircle]["circle-radius"])
	require.Equal(t, "#64748b", model.paint[layers.VehiclesCircle]["circle-color"])
}

func TestServer_RefusesViewsAfterClose(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.srv.Close()

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/v1/views/operational/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		_ = conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
	require.Empty(t, ts.srv.views)
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	s := New(nil, Options{AllowedOrigins: []string{"https://ops.example"}})
	req := httptest.NewRequest(http.MethodGet, "/v1/views/x/ws", nil)
	require.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://ops.example")
	require.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	require.False(t, s.checkOrigin(req))
}
