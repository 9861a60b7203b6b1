package metrics

import (
	"errors"
	"testing"
)

type recordSink struct {
	count int
	err   error
}

func (r *recordSink) RecordVehicleState(VehicleStateEvent) error {
	r.count++
	return r.err
}

func (r *recordSink) RecordArrival(ArrivalEvent) error {
	r.count++
	return nil
}

// stateOnly does not implement the optional recorders.
type stateOnly struct{ count int }

func (s *stateOnly) RecordVehicleState(VehicleStateEvent) error {
	s.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	s3 := &stateOnly{}
	m := NewMultiSink(s1, s2, s3)
	if err := m.RecordVehicleState(VehicleStateEvent{}); err != nil {
		t.Fatalf("record state: %v", err)
	}
	if err := m.RecordArrival(ArrivalEvent{}); err != nil {
		t.Fatalf("record arrival: %v", err)
	}
	if err := m.RecordChannelStatus(ChannelStatusEvent{}); err != nil {
		t.Fatalf("record channel: %v", err)
	}
	if s1.count != 2 || s2.count != 2 || s3.count != 1 {
		t.Fatalf("events not forwarded: %d %d %d", s1.count, s2.count, s3.count)
	}
}

func TestMultiSinkContinuesAfterError(t *testing.T) {
	boom := errors.New("boom")
	s1 := &recordSink{err: boom}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	err := m.RecordVehicleState(VehicleStateEvent{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if s2.count != 1 {
		t.Fatalf("second sink skipped")
	}
}
