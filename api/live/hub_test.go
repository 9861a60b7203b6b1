package live

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetlive/core/channel"
	"github.com/kilianp07/fleetlive/core/model"
	"github.com/kilianp07/fleetlive/core/reconciler"
	"github.com/kilianp07/fleetlive/infra/logger"
)

type fakeSource struct {
	mu      sync.Mutex
	states  []model.VehicleState
	changes chan reconciler.Change
	unsub   bool
}

func (f *fakeSource) List(model.Status) []model.VehicleState { return f.states }
func (f *fakeSource) Paths() map[string][]model.PathPoint {
	return map[string][]model.PathPoint{"1": {{Lat: 1, Lng: 2}}}
}
func (f *fakeSource) Subscribe() <-chan reconciler.Change { return f.changes }
func (f *fakeSource) Unsubscribe(<-chan reconciler.Change) {
	f.mu.Lock()
	f.unsub = true
	f.mu.Unlock()
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshotThenChanges(t *testing.T) {
	src := &fakeSource{
		states:  []model.VehicleState{{Number: "1", Status: model.StatusOnRoad}},
		changes: make(chan reconciler.Change, 4),
	}
	health := channel.NewHealth(0)
	health.SetConnected(true)
	hub := NewHub(src, health, nil, logger.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, srv)

	snap := readFrame(t, conn)
	assert.Equal(t, FrameSnapshot, snap.Type)
	require.Len(t, snap.Vehicles, 1)
	assert.Len(t, snap.Paths["1"], 1)
	require.NotNil(t, snap.Channel)
	assert.True(t, snap.Channel.Connected)
	waitClients(t, hub, 1)

	st := model.VehicleState{Number: "1", Latitude: 3, Longitude: 4}
	src.changes <- reconciler.Change{Kind: reconciler.ChangeState, VehicleID: "1", State: &st}
	f := readFrame(t, conn)
	assert.Equal(t, FrameState, f.Type)
	require.NotNil(t, f.Point)
	assert.Equal(t, model.PathPoint{Lat: 3, Lng: 4}, *f.Point)

	src.changes <- reconciler.Change{Kind: reconciler.ChangePathCleared, VehicleID: "1"}
	assert.Equal(t, FramePathCleared, readFrame(t, conn).Type)

	src.changes <- reconciler.Change{Kind: reconciler.ChangeAlert, VehicleID: "1", Message: "end dispatch failed"}
	f = readFrame(t, conn)
	assert.Equal(t, FrameAlert, f.Type)
	assert.Equal(t, "end dispatch failed", f.Message)
}

func TestChannelStatusFrame(t *testing.T) {
	src := &fakeSource{changes: make(chan reconciler.Change)}
	health := channel.NewHealth(0)
	health.SetConnected(true)
	hub := NewHub(src, health, nil, logger.NopLogger{})
	hub.interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, srv)
	snap := readFrame(t, conn)
	assert.Empty(t, snap.Vehicles)
	waitClients(t, hub, 1)

	health.SetConnected(false)
	f := readFrame(t, conn)
	assert.Equal(t, FrameChannel, f.Type)
	require.NotNil(t, f.Channel)
	assert.False(t, f.Channel.Connected)
	assert.True(t, f.Channel.Stale)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{changes: make(chan reconciler.Change)}
	hub := NewHub(src, nil, nil, logger.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { hub.Run(ctx); close(done) }()

	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, srv)
	readFrame(t, conn)
	waitClients(t, hub, 1)

	cancel()
	<-done
	assert.Equal(t, 0, hub.Clients())
	src.mu.Lock()
	assert.True(t, src.unsub)
	src.mu.Unlock()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestOriginCheck(t *testing.T) {
	src := &fakeSource{changes: make(chan reconciler.Change)}
	hub := NewHub(src, nil, []string{"https://map.example.com"}, logger.NopLogger{})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, map[string][]string{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	assert.Equal(t, 403, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, map[string][]string{"Origin": {"https://map.example.com"}})
	require.NoError(t, err)
	conn.Close()
}
