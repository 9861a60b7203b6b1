// Package reconciler merges live vehicle telemetry into per-vehicle display
// state and path trails, and closes dispatches when an on-road vehicle
// reaches a terminal geofence.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/fleetlive/core/arrivallog"
	"github.com/kilianp07/fleetlive/core/geofence"
	"github.com/kilianp07/fleetlive/core/logger"
	"github.com/kilianp07/fleetlive/core/metrics"
	"github.com/kilianp07/fleetlive/core/model"
	"github.com/kilianp07/fleetlive/core/monitoring"
	"github.com/kilianp07/fleetlive/core/vehiclestatus"
	"github.com/kilianp07/fleetlive/internal/eventbus"
)

// ErrClosed is returned by ApplyEvent after Close.
var ErrClosed = errors.New("reconciler closed")

// TimeFormat renders the display time of a vehicle (12-hour clock).
const TimeFormat = "03:04 PM"

// DefaultNamePrefix is prepended to the vehicle id to build its display name.
const DefaultNamePrefix = "Bus "

// DispatchEnder closes a dispatch log on the backend. Implementations must
// tolerate being called for an already ended dispatch.
type DispatchEnder interface {
	EndDispatch(ctx context.Context, dispatchLogID string) error
}

// AssignmentRefresher reloads the vehicle assignment list after a dispatch ends.
type AssignmentRefresher interface {
	RefreshAssignments(ctx context.Context) error
}

// Reconciler owns the vehicle state store. Events for one vehicle must be
// applied sequentially; Router provides that guarantee.
type Reconciler struct {
	store     vehiclestatus.Store
	geofences atomic.Pointer[geofence.Table]
	ender     DispatchEnder
	log       logger.Logger
	bus       *eventbus.TypedBus[Change]
	closed    atomic.Bool

	mu         sync.RWMutex
	refresher  AssignmentRefresher
	sink       metrics.MetricsSink
	arrivals   arrivallog.Store
	monitor    monitoring.Monitor
	location   *time.Location
	namePrefix string
	endTimeout time.Duration
	now        func() time.Time
}

// New creates a reconciler. A nil geofence table never matches.
func New(store vehiclestatus.Store, geofences *geofence.Table, ender DispatchEnder, log logger.Logger) (*Reconciler, error) {
	if store == nil || ender == nil || log == nil {
		return nil, fmt.Errorf("reconciler: nil parameter provided to New")
	}
	r := &Reconciler{
		store:      store,
		ender:      ender,
		log:        log,
		bus:        eventbus.NewTypedBuffered[Change](64),
		sink:       metrics.NopSink{},
		arrivals:   arrivallog.NopStore{},
		monitor:    monitoring.NopMonitor{},
		location:   time.Local,
		namePrefix: DefaultNamePrefix,
		endTimeout: 15 * time.Second,
		now:        time.Now,
	}
	r.geofences.Store(geofences)
	return r, nil
}

// SetRefresher configures the assignment refresh run after a successful arrival.
func (r *Reconciler) SetRefresher(ref AssignmentRefresher) {
	r.mu.Lock()
	r.refresher = ref
	r.mu.Unlock()
}

// SetSink configures the metrics sink receiving vehicle snapshots.
func (r *Reconciler) SetSink(sink metrics.MetricsSink) {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// SetArrivalLog configures the audit store for arrival-rule firings.
func (r *Reconciler) SetArrivalLog(store arrivallog.Store) {
	if store == nil {
		store = arrivallog.NopStore{}
	}
	r.mu.Lock()
	r.arrivals = store
	r.mu.Unlock()
}

// SetMonitor configures error reporting for end dispatch failures.
func (r *Reconciler) SetMonitor(m monitoring.Monitor) {
	if m == nil {
		m = monitoring.NopMonitor{}
	}
	r.mu.Lock()
	r.monitor = m
	r.mu.Unlock()
}

// SetLocation configures the time zone used to render display times.
func (r *Reconciler) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	r.mu.Lock()
	r.location = loc
	r.mu.Unlock()
}

// SetNamePrefix configures the prefix of synthesized display names.
func (r *Reconciler) SetNamePrefix(prefix string) {
	r.mu.Lock()
	r.namePrefix = prefix
	r.mu.Unlock()
}

// SetEndTimeout bounds each end dispatch and refresh call. Non-positive values are ignored.
func (r *Reconciler) SetEndTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.endTimeout = d
	r.mu.Unlock()
}

// SetGeofences swaps the geofence table used by the arrival rule.
func (r *Reconciler) SetGeofences(t *geofence.Table) {
	r.geofences.Store(t)
}

// Geofences returns the active geofence table.
func (r *Reconciler) Geofences() *geofence.Table {
	return r.geofences.Load()
}

type settings struct {
	refresher  AssignmentRefresher
	sink       metrics.MetricsSink
	arrivals   arrivallog.Store
	monitor    monitoring.Monitor
	location   *time.Location
	namePrefix string
	endTimeout time.Duration
	now        func() time.Time
}

func (r *Reconciler) settings() settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return settings{
		refresher:  r.refresher,
		sink:       r.sink,
		arrivals:   r.arrivals,
		monitor:    r.monitor,
		location:   r.location,
		namePrefix: r.namePrefix,
		endTimeout: r.endTimeout,
		now:        r.now,
	}
}

// ApplyEvent merges ev into the vehicle state, appends its position to the
// vehicle trail and applies the arrival rule. Invalid events are dropped
// without touching state and reported through the returned error. When the
// arrival rule fires, ApplyEvent waits for the end dispatch call and its
// local cleanup; that call survives cancellation of ctx.
func (r *Reconciler) ApplyEvent(ctx context.Context, ev model.Event) (Outcome, error) {
	if r.closed.Load() {
		return Outcome{}, ErrClosed
	}
	if err := ev.Validate(); err != nil {
		eventsDropped.WithLabelValues(dropReason(err)).Inc()
		r.log.Warnw("event dropped", logger.Fields{"vehicle_id": string(ev.VehicleID), "reason": err.Error()})
		return Outcome{}, err
	}
	cfg := r.settings()
	id := string(ev.VehicleID)
	lat, lng := ev.Coordinates()

	ts := ev.Time()
	if ts.IsZero() {
		ts = cfg.now()
	}
	driver, conductor := ev.Crew()

	prev, exists := r.store.Get(id)
	st := model.VehicleState{
		Number:        id,
		Name:          prev.Name,
		PlateNumber:   prev.PlateNumber,
		Status:        ev.Status(),
		Latitude:      lat,
		Longitude:     lng,
		Speed:         ev.Speed(),
		Time:          ts.In(cfg.location).Format(TimeFormat),
		UpdatedAt:     ts,
		DispatchLogID: ev.DispatchLogID(),
		Route:         ev.Route(),
		Driver:        driver,
		Conductor:     conductor,
	}
	if !exists {
		st.Name = cfg.namePrefix + id
	}
	if ev.PlateNumber != "" {
		st.PlateNumber = ev.PlateNumber
	}
	r.store.Set(st)
	n := r.store.AppendPath(id, model.PathPoint{Lat: lat, Lng: lng})

	eventsApplied.Inc()
	trackedVehicles.Set(float64(r.store.Len()))
	if err := cfg.sink.RecordVehicleState(metrics.VehicleStateEvent{State: st, PathLen: n, Component: "reconciler", Time: ts}); err != nil {
		r.log.Debugf("vehicle state sink error: %v", err)
	}
	snapshot := st
	r.publish(Change{Kind: ChangeState, VehicleID: id, State: &snapshot, Time: ts})

	out := Outcome{VehicleID: id, Created: !exists, PathLen: n}
	out.Arrival = r.applyArrivalRule(ctx, cfg, ev, lat, lng, ts)
	if out.Arrival.Ended() {
		out.PathLen = 0
	}
	return out, nil
}

// applyArrivalRule ends the active dispatch when an on-road vehicle sits on
// a geofence. Cleanup only happens after a confirmed end.
func (r *Reconciler) applyArrivalRule(ctx context.Context, cfg settings, ev model.Event, lat, lng float64, ts time.Time) *Arrival {
	dispatchID := ev.DispatchLogID()
	if dispatchID == "" || ev.Status() != model.StatusOnRoad {
		return nil
	}
	match, ok := r.geofences.Load().Match(lat, lng)
	if !ok {
		return nil
	}
	id := string(ev.VehicleID)
	arrivalsTriggered.WithLabelValues(match.Name).Inc()
	r.log.Infof("vehicle %s arrived at %s, ending dispatch %s", id, match.Name, dispatchID)

	a := &Arrival{Geofence: match, DispatchLogID: dispatchID}
	base := context.WithoutCancel(ctx)
	callCtx, cancel := context.WithTimeout(base, cfg.endTimeout)
	start := time.Now()
	err := r.ender.EndDispatch(callCtx, dispatchID)
	cancel()
	a.Latency = time.Since(start)
	endDispatchDuration.Observe(a.Latency.Seconds())

	if r.closed.Load() {
		a.Discarded = true
		a.Err = err
		r.log.Debugf("reconciler closed, discarding end dispatch result for %s", dispatchID)
		return a
	}
	if err != nil {
		a.Err = err
		endDispatchTotal.WithLabelValues("error").Inc()
		r.log.Errorf("end dispatch %s for vehicle %s failed: %v", dispatchID, id, err)
		cfg.monitor.CaptureException(fmt.Errorf("end dispatch %s: %w", dispatchID, err), map[string]string{
			"vehicle_id":      id,
			"dispatch_log_id": dispatchID,
			"geofence":        match.Name,
		})
		r.publish(Change{
			Kind:      ChangeAlert,
			VehicleID: id,
			Message:   fmt.Sprintf("could not end dispatch %s at %s: %v", dispatchID, match.Name, err),
			Time:      ts,
		})
		r.recordArrival(base, cfg, id, a, lat, lng, ts)
		return a
	}
	endDispatchTotal.WithLabelValues("success").Inc()

	if cfg.refresher != nil {
		refreshCtx, cancel := context.WithTimeout(base, cfg.endTimeout)
		if err := cfg.refresher.RefreshAssignments(refreshCtx); err != nil {
			a.RefreshErr = err
			r.log.Warnf("assignment refresh after dispatch %s failed: %v", dispatchID, err)
		}
		cancel()
	}
	if r.closed.Load() {
		a.Discarded = true
		return a
	}
	r.store.ClearPath(id)
	r.publish(Change{Kind: ChangePathCleared, VehicleID: id, Message: match.Name, Time: ts})
	r.recordArrival(base, cfg, id, a, lat, lng, ts)
	return a
}

func (r *Reconciler) recordArrival(ctx context.Context, cfg settings, id string, a *Arrival, lat, lng float64, ts time.Time) {
	rec := arrivallog.Record{
		Timestamp:     ts,
		VehicleID:     id,
		DispatchLogID: a.DispatchLogID,
		Geofence:      a.Geofence.Name,
		Lat:           lat,
		Lng:           lng,
		Success:       a.Err == nil,
		LatencyMS:     float64(a.Latency.Microseconds()) / 1000,
	}
	if a.Err != nil {
		rec.Error = a.Err.Error()
	}
	if err := cfg.arrivals.Append(ctx, rec); err != nil {
		r.log.Warnf("arrival log append failed: %v", err)
	}
	if ar, ok := cfg.sink.(metrics.ArrivalRecorder); ok {
		if err := ar.RecordArrival(metrics.ArrivalEvent{
			VehicleID:     id,
			DispatchLogID: a.DispatchLogID,
			Geofence:      a.Geofence.Name,
			Success:       rec.Success,
			Latency:       a.Latency,
			Error:         rec.Error,
			Time:          ts,
		}); err != nil {
			r.log.Debugf("arrival sink error: %v", err)
		}
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, model.ErrMissingVehicleID):
		return "missing_vehicle_id"
	case errors.Is(err, model.ErrMissingLocation):
		return "missing_location"
	case errors.Is(err, model.ErrMissingCoordinates):
		return "missing_coordinates"
	case errors.Is(err, model.ErrMalformedEvent):
		return "malformed"
	default:
		return "invalid"
	}
}

// RecordDrop counts an event rejected before reaching ApplyEvent, such as an
// undecodable payload.
func RecordDrop(err error) {
	eventsDropped.WithLabelValues(dropReason(err)).Inc()
}

// State returns a copy of the current state of a vehicle.
func (r *Reconciler) State(id string) (model.VehicleState, bool) {
	return r.store.Get(id)
}

// Path returns a copy of the trail of a vehicle.
func (r *Reconciler) Path(id string) []model.PathPoint {
	return r.store.Path(id)
}

// Paths returns a copy of every trail.
func (r *Reconciler) Paths() map[string][]model.PathPoint {
	return r.store.Paths()
}

// List projects the state map filtered by status and sorted by numeric id.
func (r *Reconciler) List(status model.Status) []model.VehicleState {
	return r.store.List(vehiclestatus.Filter{Status: status})
}

// Len returns the number of tracked vehicles.
func (r *Reconciler) Len() int {
	return r.store.Len()
}

// Restore seeds states that are not tracked yet, typically from a snapshot
// taken before a restart. Live state always wins over restored entries.
func (r *Reconciler) Restore(states []model.VehicleState) int {
	n := 0
	for _, st := range states {
		if st.Number == "" {
			continue
		}
		if _, ok := r.store.Get(st.Number); ok {
			continue
		}
		r.store.Set(st)
		n++
	}
	trackedVehicles.Set(float64(r.store.Len()))
	return n
}

func (r *Reconciler) publish(c Change) {
	if n := r.bus.Publish(c); n > 0 {
		changesDropped.WithLabelValues(string(c.Kind)).Add(float64(n))
	}
}

// Subscribe returns a channel of changes. Slow subscribers miss changes
// rather than stall event processing.
func (r *Reconciler) Subscribe() <-chan Change {
	ch := r.bus.Subscribe()
	changeSubscribers.Set(float64(r.bus.Subscribers()))
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (r *Reconciler) Unsubscribe(ch <-chan Change) {
	r.bus.Unsubscribe(ch)
	changeSubscribers.Set(float64(r.bus.Subscribers()))
}

// Close stops accepting events and closes every subscriber channel. Results
// of end dispatch calls still in flight are discarded.
func (r *Reconciler) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.bus.Close()
	changeSubscribers.Set(0)
}

// Closed reports whether Close was called.
func (r *Reconciler) Closed() bool {
	return r.closed.Load()
}
