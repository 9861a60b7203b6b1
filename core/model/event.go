package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMalformedEvent is returned when a payload cannot be decoded into an Event.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrMissingVehicleID is returned when neither the payload nor the subject carries a vehicle id.
	ErrMissingVehicleID = errors.New("missing vehicle id")
	// ErrMissingLocation is returned when the location object is absent or null.
	ErrMissingLocation = errors.New("missing location")
	// ErrMissingCoordinates is returned when latitude or longitude is absent.
	ErrMissingCoordinates = errors.New("missing coordinates")
)

// ID is an identifier that the backend may encode either as a JSON string or
// as a JSON number.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Location is the position block of a telemetry event.
type Location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	// Speed is expressed in km/h.
	Speed *float64 `json:"speed"`
}

// UserProfile is a crew member attached to a vehicle assignment.
type UserProfile struct {
	Position  string `json:"position"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Name      string `json:"name,omitempty"`
}

// DisplayName prefers the explicit name and falls back to first and last name.
func (p UserProfile) DisplayName() string {
	if n := strings.TrimSpace(p.Name); n != "" {
		return n
	}
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

// VehicleAssignment links a vehicle to its crew for the active dispatch.
type VehicleAssignment struct {
	ID           ID            `json:"vehicle_assignment_id,omitempty"`
	UserProfiles []UserProfile `json:"user_profiles"`
}

// DispatchLog is the backend record driving a vehicle's status.
type DispatchLog struct {
	DispatchLogsID    ID                 `json:"dispatch_logs_id"`
	Status            Status             `json:"status"`
	Route             string             `json:"route,omitempty"`
	VehicleAssignment *VehicleAssignment `json:"vehicle_assignment,omitempty"`
}

// Event is one telemetry/status message received on the fleet channel.
type Event struct {
	VehicleID   ID           `json:"vehicle_id"`
	PlateNumber string       `json:"plate_number,omitempty"`
	Location    *Location    `json:"location"`
	Timestamp   float64      `json:"timestamp"`
	DispatchLog *DispatchLog `json:"dispatch_log,omitempty"`
}

// DecodeEvent parses a raw channel payload. Non-numeric coordinates and
// other type mismatches are reported as ErrMalformedEvent.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}

// Validate reports whether the event carries enough data to mutate state.
func (e Event) Validate() error {
	if strings.TrimSpace(string(e.VehicleID)) == "" {
		return ErrMissingVehicleID
	}
	if e.Location == nil {
		return ErrMissingLocation
	}
	if e.Location.Latitude == nil || e.Location.Longitude == nil {
		return ErrMissingCoordinates
	}
	return nil
}

// Coordinates returns latitude and longitude. Callers must Validate first.
func (e Event) Coordinates() (float64, float64) {
	return *e.Location.Latitude, *e.Location.Longitude
}

// Speed returns the reported speed, defaulting to zero.
func (e Event) Speed() float64 {
	if e.Location == nil || e.Location.Speed == nil {
		return 0
	}
	return *e.Location.Speed
}

// Time converts the unix-seconds timestamp. A zero timestamp yields the zero time.
func (e Event) Time() time.Time {
	if e.Timestamp <= 0 {
		return time.Time{}
	}
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Status is the dispatch status, or idle when no dispatch log is attached.
func (e Event) Status() Status {
	if e.DispatchLog == nil || e.DispatchLog.Status == "" {
		return StatusIdle
	}
	return e.DispatchLog.Status
}

// DispatchLogID returns the active dispatch log id, empty when none.
func (e Event) DispatchLogID() string {
	if e.DispatchLog == nil {
		return ""
	}
	return string(e.DispatchLog.DispatchLogsID)
}

// Route returns the route of the active dispatch, empty when idle.
func (e Event) Route() string {
	if e.DispatchLog == nil {
		return ""
	}
	return e.DispatchLog.Route
}

// Crew scans the assignment profiles for the driver and the conductor.
// Empty results mean unknown: the assignment list may not be loaded in this event.
func (e Event) Crew() (driver, conductor string) {
	if e.DispatchLog == nil || e.DispatchLog.VehicleAssignment == nil {
		return "", ""
	}
	for _, p := range e.DispatchLog.VehicleAssignment.UserProfiles {
		switch p.Position {
		case PositionDriver:
			if driver == "" {
				driver = p.DisplayName()
			}
		case PositionConductor:
			if conductor == "" {
				conductor = p.DisplayName()
			}
		}
	}
	return driver, conductor
}
