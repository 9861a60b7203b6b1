package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetlive/core/channel"
	"github.com/kilianp07/fleetlive/core/geofence"
	"github.com/kilianp07/fleetlive/core/model"
	"github.com/kilianp07/fleetlive/core/reconciler"
	"github.com/kilianp07/fleetlive/core/vehiclestatus"
	"github.com/kilianp07/fleetlive/infra/logger"
)

type noEnd struct{}

func (noEnd) EndDispatch(context.Context, string) error { return nil }

func newReconciler(t *testing.T) *reconciler.Reconciler {
	t.Helper()
	tbl := geofence.NewTable([]geofence.Location{{Name: "Depot", Coordinates: []geofence.Coordinate{{Lat: 1, Lng: 1}}}}, 0)
	rec, err := reconciler.New(vehiclestatus.NewMemoryStore(), tbl, noEnd{}, logger.NopLogger{})
	require.NoError(t, err)
	return rec
}

func TestNewMuxRoutes(t *testing.T) {
	rec := newReconciler(t)
	lat, lng := 5.0, 6.0
	_, err := rec.ApplyEvent(context.Background(), model.Event{VehicleID: "3", Location: &model.Location{Latitude: &lat, Longitude: &lng}})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "fleetlive_test_total", Help: "test"}))
	health := channel.NewHealth(0)
	health.SetConnected(true)
	mux := NewMux(Deps{Fleet: rec, Driver: "mqtt", Health: health, Gatherer: reg})

	for _, tc := range []struct {
		path string
		code int
	}{
		{"/api/vehicles", http.StatusOK},
		{"/api/vehicles/3", http.StatusOK},
		{"/api/vehicles/3/path", http.StatusOK},
		{"/api/vehicles/4", http.StatusNotFound},
		{"/api/geofences", http.StatusOK},
		{"/api/geofences/match?lat=1&lng=1", http.StatusOK},
		{"/api/arrivals", http.StatusOK},
		{"/api/health", http.StatusOK},
		{"/api/assignments", http.StatusNotFound},
		{"/metrics", http.StatusOK},
	} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.code, rr.Code, tc.path)
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "fleetlive_test_total")
}

func TestServeStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, addr, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}), logger.NopLogger{})
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}
