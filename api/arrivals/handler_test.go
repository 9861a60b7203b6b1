package arrivals

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetlive/core/arrivallog"
)

func seed(t *testing.T) arrivallog.Store {
	t.Helper()
	store, err := arrivallog.NewJSONLStore(filepath.Join(t.TempDir(), "arrivals.jsonl"))
	require.NoError(t, err)
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	recs := []arrivallog.Record{
		{Timestamp: base, VehicleID: "1", DispatchLogID: "d1", Geofence: "Depot", Success: true},
		{Timestamp: base.Add(time.Hour), VehicleID: "2", DispatchLogID: "d2", Geofence: "Terminal", Success: false, Error: "backend: 500"},
		{Timestamp: base.Add(2 * time.Hour), VehicleID: "1", DispatchLogID: "d3", Geofence: "Terminal", Success: true},
	}
	for _, r := range recs {
		require.NoError(t, store.Append(context.Background(), r))
	}
	return store
}

func query(t *testing.T, h http.Handler, target, token string) (*httptest.ResponseRecorder, []arrivallog.Record) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out []arrivallog.Record
	if rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestHandlerAuth(t *testing.T) {
	h := NewHandler(seed(t), "secret")
	rr, _ := query(t, h, "/api/arrivals", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	for _, tok := range []string{"wrong", "secre", "secret2", "SECRET"} {
		rr, _ = query(t, h, "/api/arrivals", tok)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, tok)
	}
	rr, out := query(t, h, "/api/arrivals", "secret")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, out, 3)
}

func TestHandlerFilters(t *testing.T) {
	h := NewHandler(seed(t), "")
	_, out := query(t, h, "/api/arrivals?vehicle_id=1", "")
	assert.Len(t, out, 2)

	_, out = query(t, h, "/api/arrivals?success=false", "")
	require.Len(t, out, 1)
	assert.Equal(t, "d2", out[0].DispatchLogID)

	_, out = query(t, h, "/api/arrivals?geofence=Terminal&limit=1", "")
	require.Len(t, out, 1)
	assert.Equal(t, "d3", out[0].DispatchLogID)

	_, out = query(t, h, "/api/arrivals?start=2024-05-01T08:30:00Z&end=2024-05-01T09:30:00Z", "")
	require.Len(t, out, 1)
	assert.Equal(t, "2", out[0].VehicleID)
}

func TestHandlerBadQuery(t *testing.T) {
	h := NewHandler(seed(t), "")
	for _, target := range []string{"/api/arrivals?start=yesterday", "/api/arrivals?success=maybe", "/api/arrivals?limit=x"} {
		rr, _ := query(t, h, target, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestHandlerEmpty(t *testing.T) {
	h := NewHandler(arrivallog.NopStore{}, "")
	rr, _ := query(t, h, "/api/arrivals", "")
	assert.JSONEq(t, "[]", rr.Body.String())
}
