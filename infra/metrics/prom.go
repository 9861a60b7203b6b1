package metrics

import (
	"errors"
	"strconv"

	coremetrics "github.com/kilianp07/fleetlive/core/metrics"
	"github.com/kilianp07/fleetlive/core/model"
	"github.com/prometheus/client_golang/prometheus"
)

var statuses = []model.Status{model.StatusIdle, model.StatusOnAlley, model.StatusOnRoad}

// PromSink exposes vehicle snapshots and arrival outcomes as Prometheus metrics.
type PromSink struct {
	speed     *prometheus.GaugeVec
	status    *prometheus.GaugeVec
	pathLen   *prometheus.GaugeVec
	arrivals  *prometheus.CounterVec
	connected *prometheus.GaugeVec
	fleet     prometheus.Gauge
}

// NewPromSink registers the vehicle metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		speed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetlive_vehicle_speed_kmh",
			Help: "Last reported speed per vehicle",
		}, []string{"vehicle_id"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetlive_vehicle_status",
			Help: "1 for the current dispatch status of the vehicle, 0 otherwise",
		}, []string{"vehicle_id", "status"}),
		pathLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetlive_vehicle_path_points",
			Help: "Number of points in the current trail of the vehicle",
		}, []string{"vehicle_id"}),
		arrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetlive_geofence_arrivals_total",
			Help: "Arrival rule firings per geofence and outcome",
		}, []string{"geofence", "success"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetlive_channel_connected",
			Help: "1 when the fleet channel is connected",
		}, []string{"driver"}),
		fleet: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetlive_fleet_vehicles",
			Help: "Number of vehicles tracked by the reconciler",
		}),
	}
	var err error
	if s.speed, err = register(reg, s.speed); err != nil {
		return nil, err
	}
	if s.status, err = register(reg, s.status); err != nil {
		return nil, err
	}
	if s.pathLen, err = register(reg, s.pathLen); err != nil {
		return nil, err
	}
	if s.arrivals, err = register(reg, s.arrivals); err != nil {
		return nil, err
	}
	if s.connected, err = register(reg, s.connected); err != nil {
		return nil, err
	}
	if s.fleet, err = register(reg, s.fleet); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordVehicleState updates the per-vehicle gauges.
func (s *PromSink) RecordVehicleState(ev coremetrics.VehicleStateEvent) error {
	id := ev.State.Number
	s.speed.WithLabelValues(id).Set(ev.State.Speed)
	s.pathLen.WithLabelValues(id).Set(float64(ev.PathLen))
	for _, st := range statuses {
		v := 0.0
		if st == ev.State.Status {
			v = 1
		}
		s.status.WithLabelValues(id, string(st)).Set(v)
	}
	return nil
}

// RecordArrival counts arrival-rule outcomes.
func (s *PromSink) RecordArrival(ev coremetrics.ArrivalEvent) error {
	s.arrivals.WithLabelValues(ev.Geofence, strconv.FormatBool(ev.Success)).Inc()
	return nil
}

// RecordChannelStatus sets the connectivity gauge.
func (s *PromSink) RecordChannelStatus(ev coremetrics.ChannelStatusEvent) error {
	v := 0.0
	if ev.Connected {
		v = 1
	}
	s.connected.WithLabelValues(ev.Driver).Set(v)
	return nil
}

// RecordFleetSize sets the gauge to the number of tracked vehicles.
func (s *PromSink) RecordFleetSize(size int) error {
	s.fleet.Set(float64(size))
	return nil
}
