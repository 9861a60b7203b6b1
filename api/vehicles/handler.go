package vehicles

import (
	"encoding/json"
	"net/http"

	"github.com/kilianp07/fleetlive/core/model"
)

// Reader exposes the reconciled fleet state.
type Reader interface {
	List(status model.Status) []model.VehicleState
	State(id string) (model.VehicleState, bool)
	Path(id string) []model.PathPoint
}

// Mux is satisfied by *http.ServeMux.
type Mux interface {
	Handle(pattern string, h http.Handler)
}

// Register mounts the vehicle endpoints on mux.
func Register(mux Mux, r Reader) {
	mux.Handle("GET /api/vehicles", NewListHandler(r))
	mux.Handle("GET /api/vehicles/{id}", NewStateHandler(r))
	mux.Handle("GET /api/vehicles/{id}/path", NewPathHandler(r))
}

// NewListHandler returns an HTTP handler exposing the sorted vehicle list via
// GET /api/vehicles. The optional status parameter filters by exact status;
// "all" or no value returns every vehicle.
func NewListHandler(r Reader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		status, ok := model.ParseStatus(req.URL.Query().Get("status"))
		if !ok {
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		entries := r.List(status)
		if entries == nil {
			entries = []model.VehicleState{}
		}
		writeJSON(w, entries)
	})
}

// NewStateHandler serves GET /api/vehicles/{id}.
func NewStateHandler(r Reader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		st, ok := r.State(req.PathValue("id"))
		if !ok {
			http.Error(w, "vehicle not found", http.StatusNotFound)
			return
		}
		writeJSON(w, st)
	})
}

// NewPathHandler serves the trail of one vehicle via GET /api/vehicles/{id}/path.
func NewPathHandler(r Reader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.PathValue("id")
		if _, ok := r.State(id); !ok {
			http.Error(w, "vehicle not found", http.StatusNotFound)
			return
		}
		path := r.Path(id)
		if path == nil {
			path = []model.PathPoint{}
		}
		writeJSON(w, path)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
