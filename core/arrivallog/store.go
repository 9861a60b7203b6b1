// Package arrivallog keeps an audit trail of every arrival-rule firing and
// the outcome of the end dispatch call it triggered.
package arrivallog

import (
	"context"
	"fmt"
	"time"
)

// Record captures one arrival-rule firing.
type Record struct {
	Timestamp     time.Time `json:"timestamp"`
	VehicleID     string    `json:"vehicle_id"`
	DispatchLogID string    `json:"dispatch_log_id"`
	Geofence      string    `json:"geofence"`
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	LatencyMS     float64   `json:"latency_ms"`
}

// Query defines filters for retrieving records. Zero values match everything.
type Query struct {
	Start         time.Time
	End           time.Time
	VehicleID     string
	DispatchLogID string
	Geofence      string
	Success       *bool
	// Limit keeps only the most recent records when positive.
	Limit int
}

// Matches reports whether r satisfies every filter of q except Limit.
func (q Query) Matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.VehicleID != "" && r.VehicleID != q.VehicleID {
		return false
	}
	if q.DispatchLogID != "" && r.DispatchLogID != q.DispatchLogID {
		return false
	}
	if q.Geofence != "" && r.Geofence != q.Geofence {
		return false
	}
	if q.Success != nil && r.Success != *q.Success {
		return false
	}
	return true
}

func (q Query) limit(res []Record) []Record {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Rotation configures size-based rotation of the JSONL backend.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Open creates the store for backend ("jsonl" or "sqlite"). An empty path
// disables the audit log and returns a NopStore.
func Open(backend, path string, rot Rotation) (Store, error) {
	if path == "" {
		return NopStore{}, nil
	}
	switch backend {
	case "", "jsonl":
		if rot.MaxSizeMB > 0 {
			return NewRotatingJSONLStore(path, rot.MaxSizeMB, rot.MaxBackups, rot.MaxAgeDays)
		}
		return NewJSONLStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown arrival log backend %q", backend)
	}
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error            { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
