// Package fleet serves the supporting read endpoints of the live map:
// geofences, assignments and feed health.
package fleet

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/fleetlive/core/channel"
	"github.com/kilianp07/fleetlive/core/geofence"
	"github.com/kilianp07/fleetlive/core/model"
)

// GeofenceSource returns the active geofence table.
type GeofenceSource interface {
	Geofences() *geofence.Table
}

// AssignmentLister returns the cached assignment list.
type AssignmentLister interface {
	List() ([]model.Assignment, time.Time)
}

// Counter reports the number of tracked vehicles.
type Counter interface {
	Len() int
}

type geofenceView struct {
	Tolerance float64             `json:"tolerance"`
	Locations []geofence.Location `json:"locations"`
}

// NewGeofenceHandler serves GET /api/geofences.
func NewGeofenceHandler(src GeofenceSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := src.Geofences()
		locs := t.Locations()
		if locs == nil {
			locs = []geofence.Location{}
		}
		writeJSON(w, geofenceView{Tolerance: t.Tolerance(), Locations: locs})
	})
}

// NewMatchHandler serves GET /api/geofences/match?lat=..&lng=.. and returns
// the first geofence within tolerance, or 404.
func NewMatchHandler(src GeofenceSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
		if err1 != nil || err2 != nil {
			http.Error(w, "lat and lng must be numbers", http.StatusBadRequest)
			return
		}
		m, ok := src.Geofences().Match(lat, lng)
		if !ok {
			http.Error(w, "no geofence matched", http.StatusNotFound)
			return
		}
		writeJSON(w, m)
	})
}

type assignmentsView struct {
	RefreshedAt *time.Time         `json:"refreshed_at,omitempty"`
	Assignments []model.Assignment `json:"assignments"`
}

// NewAssignmentsHandler serves GET /api/assignments.
func NewAssignmentsHandler(l AssignmentLister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items, at := l.List()
		view := assignmentsView{Assignments: items}
		if view.Assignments == nil {
			view.Assignments = []model.Assignment{}
		}
		if !at.IsZero() {
			view.RefreshedAt = &at
		}
		writeJSON(w, view)
	})
}

// HealthView is the body of GET /api/health.
type HealthView struct {
	Status   string               `json:"status"`
	Driver   string               `json:"driver"`
	Channel  channel.HealthStatus `json:"channel"`
	Vehicles int                  `json:"vehicles"`
}

// NewHealthHandler serves GET /api/health. It answers 503 while the channel
// is disconnected so that load balancers can react.
func NewHealthHandler(driver string, h *channel.Health, fleet Counter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		view := HealthView{Status: "ok", Driver: driver, Channel: h.Status()}
		if fleet != nil {
			view.Vehicles = fleet.Len()
		}
		switch {
		case !view.Channel.Connected:
			view.Status = "down"
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(view)
			return
		case view.Channel.Stale:
			view.Status = "stale"
		}
		writeJSON(w, view)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
