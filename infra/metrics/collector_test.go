package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	coremetrics "github.com/kilianp07/fleetlive/core/metrics"
)

type flipConn struct{ up atomic.Bool }

func (f *flipConn) Connected() bool { return f.up.Load() }

type fixedFleet int

func (f fixedFleet) Len() int { return int(f) }

type statusSink struct {
	coremetrics.NopSink
	mu     sync.Mutex
	events []coremetrics.ChannelStatusEvent
	size   int
}

func (s *statusSink) RecordChannelStatus(ev coremetrics.ChannelStatusEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *statusSink) RecordFleetSize(n int) error {
	s.mu.Lock()
	s.size = n
	s.mu.Unlock()
	return nil
}

func (s *statusSink) snapshot() ([]coremetrics.ChannelStatusEvent, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]coremetrics.ChannelStatusEvent(nil), s.events...), s.size
}

func TestStartStatusCollector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &flipConn{}
	sink := &statusSink{}
	StartStatusCollector(ctx, "mqtt", conn, fixedFleet(3), sink, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for {
		evs, size := sink.snapshot()
		if len(evs) == 1 && size == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("initial status not recorded: %v size=%d", evs, size)
		}
		time.Sleep(2 * time.Millisecond)
	}
	conn.up.Store(true)
	for {
		evs, _ := sink.snapshot()
		if len(evs) == 2 {
			if !evs[1].Connected || evs[1].Driver != "mqtt" {
				t.Fatalf("unexpected event %+v", evs[1])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status change not recorded: %v", evs)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
