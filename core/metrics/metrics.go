package metrics

import (
	"time"

	"github.com/kilianp07/fleetlive/core/model"
)

// VehicleStateEvent is a snapshot of a vehicle after an event was applied.
type VehicleStateEvent struct {
	State     model.VehicleState
	PathLen   int
	Component string
	Time      time.Time
}

// MetricsSink records vehicle state snapshots for observability purposes.
type MetricsSink interface {
	RecordVehicleState(ev VehicleStateEvent) error
}

// ArrivalEvent captures the outcome of an arrival-rule end dispatch call.
type ArrivalEvent struct {
	VehicleID     string
	DispatchLogID string
	Geofence      string
	Success       bool
	Latency       time.Duration
	Error         string
	Time          time.Time
}

// ArrivalRecorder records arrival-rule outcomes.
type ArrivalRecorder interface {
	RecordArrival(ev ArrivalEvent) error
}

// ChannelStatusEvent reports connectivity of the fleet channel.
type ChannelStatusEvent struct {
	Driver    string
	Connected bool
	Time      time.Time
}

// ChannelStatusRecorder records channel connectivity changes.
type ChannelStatusRecorder interface {
	RecordChannelStatus(ev ChannelStatusEvent) error
}

// FleetSizeRecorder records the number of tracked vehicles.
type FleetSizeRecorder interface {
	RecordFleetSize(size int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordVehicleState(VehicleStateEvent) error   { return nil }
func (NopSink) RecordArrival(ArrivalEvent) error             { return nil }
func (NopSink) RecordChannelStatus(ChannelStatusEvent) error { return nil }
func (NopSink) RecordFleetSize(int) error                    { return nil }
