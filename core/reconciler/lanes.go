package reconciler

import (
	"context"
	"errors"
	"sync"

	"github.com/kilianp07/fleetlive/core/logger"
	"github.com/kilianp07/fleetlive/core/model"
	"github.com/kilianp07/fleetlive/core/monitoring"
)

// DefaultLaneBuffer is the number of events queued per vehicle before
// Submit starts blocking.
const DefaultLaneBuffer = 32

// ResultFunc observes the outcome of every event applied by a Router.
type ResultFunc func(ev model.Event, out Outcome, err error)

// Router serializes events per vehicle. Each vehicle gets its own lane, a
// goroutine draining a buffered queue, so that an arrival waiting on the
// backend only delays later events of that same vehicle.
type Router struct {
	rec    *Reconciler
	log    logger.Logger
	buffer int

	// hooksMu guards monitor and onResult. Lanes never take mu.
	hooksMu  sync.RWMutex
	monitor  monitoring.Monitor
	onResult ResultFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	lanes  map[string]chan model.Event
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewRouter creates a router feeding rec. A non-positive buffer selects
// DefaultLaneBuffer.
func NewRouter(rec *Reconciler, buffer int, log logger.Logger) (*Router, error) {
	if rec == nil || log == nil {
		return nil, errors.New("reconciler: nil parameter provided to NewRouter")
	}
	if buffer <= 0 {
		buffer = DefaultLaneBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		rec:     rec,
		log:     log,
		monitor: monitoring.NopMonitor{},
		buffer:  buffer,
		ctx:     ctx,
		cancel:  cancel,
		lanes:   make(map[string]chan model.Event),
		stop:    make(chan struct{}),
	}, nil
}

// SetMonitor configures where lane panics are reported.
func (rt *Router) SetMonitor(m monitoring.Monitor) {
	if m == nil {
		m = monitoring.NopMonitor{}
	}
	rt.hooksMu.Lock()
	rt.monitor = m
	rt.hooksMu.Unlock()
}

// OnResult registers a hook called after each event is applied.
func (rt *Router) OnResult(f ResultFunc) {
	rt.hooksMu.Lock()
	rt.onResult = f
	rt.hooksMu.Unlock()
}

// Submit queues ev on the lane of its vehicle. Events without a vehicle id
// are applied inline so they are counted and logged as dropped. When the
// lane is full Submit blocks until there is room, holding no router lock so
// other vehicles keep flowing.
func (rt *Router) Submit(ev model.Event) error {
	id := string(ev.VehicleID)
	if id == "" {
		if rt.isClosed() {
			return ErrClosed
		}
		rt.apply(id, ev)
		return nil
	}

	rt.mu.RLock()
	closed := rt.closed || rt.rec.Closed()
	lane, ok := rt.lanes[id]
	rt.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		if lane = rt.openLane(id); lane == nil {
			return ErrClosed
		}
	}
	select {
	case lane <- ev:
		return nil
	default:
	}
	laneBackpressure.Inc()
	rt.log.Warnw("vehicle lane full", logger.Fields{"vehicle_id": id, "buffer": rt.buffer})
	select {
	case lane <- ev:
		return nil
	case <-rt.stop:
		return ErrClosed
	}
}

func (rt *Router) openLane(id string) chan model.Event {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil
	}
	if lane, ok := rt.lanes[id]; ok {
		return lane
	}
	lane := make(chan model.Event, rt.buffer)
	rt.lanes[id] = lane
	rt.wg.Add(1)
	activeLanes.Inc()
	go rt.run(id, lane)
	return lane
}

// run drains lane until the router stops. Lane channels are never closed
// since Submit may still hold a reference; events left behind after stop are
// handed to the closed reconciler, which discards them.
func (rt *Router) run(id string, lane <-chan model.Event) {
	defer rt.wg.Done()
	defer activeLanes.Dec()
	for {
		select {
		case ev := <-lane:
			rt.apply(id, ev)
		case <-rt.stop:
			for {
				select {
				case ev := <-lane:
					rt.apply(id, ev)
				default:
					return
				}
			}
		}
	}
}

func (rt *Router) apply(id string, ev model.Event) {
	rt.hooksMu.RLock()
	mon, hook := rt.monitor, rt.onResult
	rt.hooksMu.RUnlock()
	defer func() {
		if v := recover(); v != nil {
			rt.log.Errorf("lane %s recovered from panic: %v", id, v)
			mon.CapturePanic(v, map[string]string{"vehicle_id": id})
		}
	}()
	out, err := rt.rec.ApplyEvent(rt.ctx, ev)
	if hook != nil {
		hook(ev, out, err)
	}
}

func (rt *Router) isClosed() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.closed || rt.rec.Closed()
}

// Lanes returns the number of running lanes.
func (rt *Router) Lanes() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.lanes)
}

// Close closes the reconciler, stops accepting events and waits for the
// lanes to drain. Queued events are discarded by the closed reconciler. It
// returns ctx.Err() if ctx expires first.
func (rt *Router) Close(ctx context.Context) error {
	rt.rec.Close()
	rt.mu.Lock()
	if !rt.closed {
		rt.closed = true
		close(rt.stop)
		clear(rt.lanes)
	}
	rt.mu.Unlock()

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		rt.cancel()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
