package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsApplied       prometheus.Counter
	eventsDropped       *prometheus.CounterVec
	trackedVehicles     prometheus.Gauge
	arrivalsTriggered   *prometheus.CounterVec
	endDispatchTotal    *prometheus.CounterVec
	endDispatchDuration prometheus.Histogram
	laneBackpressure    prometheus.Counter
	activeLanes         prometheus.Gauge
	changesDropped      *prometheus.CounterVec
	changeSubscribers   prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, *prometheus.CounterVec, prometheus.Gauge, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Histogram, prometheus.Counter, prometheus.Gauge, *prometheus.CounterVec, prometheus.Gauge) {
	applied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetlive_events_applied_total",
		Help: "Number of telemetry events merged into vehicle state",
	})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetlive_events_dropped_total",
		Help: "Number of telemetry events dropped before mutating state",
	}, []string{"reason"})
	tracked := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetlive_tracked_vehicles",
		Help: "Number of vehicles with a state entry",
	})
	arrivals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetlive_arrivals_total",
		Help: "Number of arrival rule firings per geofence",
	}, []string{"geofence"})
	end := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetlive_end_dispatch_total",
		Help: "End dispatch calls issued by the arrival rule by result",
	}, []string{"result"})
	dur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetlive_end_dispatch_duration_seconds",
		Help:    "Latency of end dispatch calls issued by the arrival rule",
		Buckets: prometheus.DefBuckets,
	})
	bp := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetlive_lane_backpressure_total",
		Help: "Number of submissions that found a vehicle lane full",
	})
	lanes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetlive_active_lanes",
		Help: "Number of per-vehicle lanes running",
	})
	missed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetlive_change_feed_dropped_total",
		Help: "Change deliveries skipped because a subscriber was full",
	}, []string{"kind"})
	subs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetlive_change_feed_subscribers",
		Help: "Number of live change feed subscribers",
	})
	return applied, dropped, tracked, arrivals, end, dur, bp, lanes, missed, subs
}

func init() {
	eventsApplied, eventsDropped, trackedVehicles, arrivalsTriggered, endDispatchTotal, endDispatchDuration, laneBackpressure, activeLanes, changesDropped, changeSubscribers = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers reconciler metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(eventsApplied, eventsDropped, trackedVehicles, arrivalsTriggered, endDispatchTotal, endDispatchDuration, laneBackpressure, activeLanes, changesDropped, changeSubscribers)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	eventsApplied, eventsDropped, trackedVehicles, arrivalsTriggered, endDispatchTotal, endDispatchDuration, laneBackpressure, activeLanes, changesDropped, changeSubscribers = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
