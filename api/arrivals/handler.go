package arrivals

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/fleetlive/core/arrivallog"
)

// NewHandler returns an HTTP handler exposing arrival records via GET /api/arrivals.
// Requests must include an Authorization header with "Bearer <token>" when token is non-empty.
func NewHandler(store arrivallog.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			auth := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		q, err := parseQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []arrivallog.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

func parseQuery(r *http.Request) (arrivallog.Query, error) {
	v := r.URL.Query()
	q := arrivallog.Query{
		VehicleID:     v.Get("vehicle_id"),
		DispatchLogID: v.Get("dispatch_log_id"),
		Geofence:      v.Get("geofence"),
	}
	var err error
	if s := v.Get("start"); s != "" {
		if q.Start, err = time.Parse(time.RFC3339, s); err != nil {
			return q, err
		}
	}
	if s := v.Get("end"); s != "" {
		if q.End, err = time.Parse(time.RFC3339, s); err != nil {
			return q, err
		}
	}
	if s := v.Get("success"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, err
		}
		q.Success = &b
	}
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil {
			return q, err
		}
	}
	return q, nil
}
