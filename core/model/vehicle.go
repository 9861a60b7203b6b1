package model

import (
	"math"
	"strconv"
	"time"
)

// Status is the dispatch state of a bus as reported by the backend.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusOnAlley Status = "on alley"
	StatusOnRoad  Status = "on road"
	// StatusAll is the list filter value that matches every status.
	StatusAll Status = "all"
)

// Crew positions found in assignment user profiles.
const (
	PositionDriver    = "driver"
	PositionConductor = "passenger_assistant_officer"
)

// ParseStatus maps a filter string to a Status. Empty input means StatusAll.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case "", StatusAll:
		return StatusAll, true
	case StatusIdle, StatusOnAlley, StatusOnRoad:
		return Status(s), true
	default:
		return "", false
	}
}

// VehicleState is the current display state of one vehicle.
type VehicleState struct {
	Number      string  `json:"number"`
	Name        string  `json:"name"`
	PlateNumber string  `json:"plate_number,omitempty"`
	Status      Status  `json:"status"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	// Speed in km/h.
	Speed float64 `json:"speed"`
	// Time is the display rendering of UpdatedAt (12-hour clock).
	Time          string    `json:"time"`
	UpdatedAt     time.Time `json:"updated_at"`
	DispatchLogID string    `json:"dispatch_log_id,omitempty"`
	Route         string    `json:"route"`
	Driver        string    `json:"driver,omitempty"`
	Conductor     string    `json:"conductor,omitempty"`
}

// NumericID returns the vehicle number parsed as a finite number. NaN and
// infinities are not numeric ids.
func (s VehicleState) NumericID() (float64, bool) {
	f, err := strconv.ParseFloat(s.Number, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// PathPoint is one point of a vehicle's trail on the live map.
type PathPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Assignment is a vehicle assignment as listed by the backend.
type Assignment struct {
	ID           ID            `json:"vehicle_assignment_id"`
	VehicleID    ID            `json:"vehicle_id"`
	PlateNumber  string        `json:"plate_number,omitempty"`
	UserProfiles []UserProfile `json:"user_profiles"`
}
