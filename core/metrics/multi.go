package metrics

import "errors"

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordVehicleState forwards the snapshot to all sinks. Every sink is
// attempted and the errors are joined.
func (m *MultiSink) RecordVehicleState(ev VehicleStateEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordVehicleState(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordArrival forwards arrival outcomes when supported by the sink.
func (m *MultiSink) RecordArrival(ev ArrivalEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(ArrivalRecorder); ok {
			if err := rec.RecordArrival(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordChannelStatus forwards connectivity changes when supported by the sink.
func (m *MultiSink) RecordChannelStatus(ev ChannelStatusEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(ChannelStatusRecorder); ok {
			if err := rec.RecordChannelStatus(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordFleetSize forwards fleet size when supported by the sink.
func (m *MultiSink) RecordFleetSize(size int) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(FleetSizeRecorder); ok {
			if err := rec.RecordFleetSize(size); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
