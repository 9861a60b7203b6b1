package reconciler

import (
	"time"

	"github.com/kilianp07/fleetlive/core/geofence"
	"github.com/kilianp07/fleetlive/core/model"
)

// ChangeKind identifies what changed for a vehicle.
type ChangeKind string

const (
	// ChangeState is published after an event was merged.
	ChangeState ChangeKind = "state"
	// ChangePathCleared is published after a successful arrival reset the trail.
	ChangePathCleared ChangeKind = "path_cleared"
	// ChangeAlert is published when an arrival could not end the dispatch.
	ChangeAlert ChangeKind = "alert"
)

// Change is a notification on the reconciler change feed. State is a copy.
type Change struct {
	Kind      ChangeKind          `json:"kind"`
	VehicleID string              `json:"vehicle_id"`
	State     *model.VehicleState `json:"state,omitempty"`
	Message   string              `json:"message,omitempty"`
	Time      time.Time           `json:"time"`
}

// Outcome reports what ApplyEvent did.
type Outcome struct {
	VehicleID string
	// Created is true when the event introduced a new vehicle.
	Created bool
	PathLen int
	// Arrival is set when the arrival rule fired for this event.
	Arrival *Arrival
}

// Arrival is the result of an arrival-rule firing.
type Arrival struct {
	Geofence      geofence.Match
	DispatchLogID string
	// Err is the end dispatch failure. Local cleanup is skipped when set.
	Err error
	// RefreshErr is the assignment refresh failure after a successful end.
	RefreshErr error
	// Discarded is true when the reconciler was closed while the call was in flight.
	Discarded bool
	Latency   time.Duration
}

// Ended reports whether the dispatch was closed and local cleanup applied.
func (a *Arrival) Ended() bool {
	return a != nil && a.Err == nil && !a.Discarded
}
