package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"golang.org/x/time/rate"

	coremetrics "github.com/kilianp07/fleetlive/core/metrics"
	"github.com/kilianp07/fleetlive/infra/logger"
)

// stateQueue is the number of vehicle state points held while the writer is
// busy. Points beyond it are dropped.
const stateQueue = 4096

// InfluxSink writes vehicle time series to an InfluxDB instance using the official client.
// Vehicle states are queued and batched in the background; arrivals are written synchronously.
type InfluxSink struct {
	client   influxdb2.Client
	states   api.WriteAPI
	writeAPI api.WriteAPIBlocking
	log      logger.Logger

	queue   chan *write.Point
	flushes chan chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	errDone chan struct{}
	once    sync.Once
	dropLog rate.Sometimes
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().
			SetHTTPClient(&http.Client{Timeout: 5 * time.Second}).
			SetBatchSize(500).
			SetFlushInterval(1000))
	s := &InfluxSink{
		client:   client,
		states:   client.WriteAPI(org, bucket),
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
		queue:    make(chan *write.Point, stateQueue),
		flushes:  make(chan chan struct{}),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		errDone:  make(chan struct{}),
		dropLog:  rate.Sometimes{Interval: 10 * time.Second},
	}
	go s.logErrors(s.states.Errors())
	go s.forward()
	return s
}

func (s *InfluxSink) logErrors(errs <-chan error) {
	defer close(s.errDone)
	for err := range errs {
		s.log.Warnf("influx vehicle state write: %v", err)
	}
}

// forward hands queued points to the batching writer, which may block while
// a batch is in flight.
func (s *InfluxSink) forward() {
	defer close(s.stopped)
	for {
		select {
		case p := <-s.queue:
			s.states.WritePoint(p)
		case done := <-s.flushes:
			s.drain()
			s.states.Flush()
			close(done)
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *InfluxSink) drain() {
	for {
		select {
		case p := <-s.queue:
			s.states.WritePoint(p)
		default:
			return
		}
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordVehicleState queues the position and status of a vehicle. It never
// blocks on the network; write failures are logged by the sink.
func (s *InfluxSink) RecordVehicleState(ev coremetrics.VehicleStateEvent) error {
	st := ev.State
	p := write.NewPointWithMeasurement("vehicle_state").
		AddTag("vehicle_id", st.Number).
		AddTag("status", string(st.Status))
	if ev.Component != "" {
		p = p.AddTag("component", ev.Component)
	}
	if st.Route != "" {
		p = p.AddTag("route", st.Route)
	}
	p = p.AddField("latitude", st.Latitude).
		AddField("longitude", st.Longitude).
		AddField("speed_kmh", round3(st.Speed)).
		AddField("path_points", ev.PathLen).
		SetTime(ev.Time)
	select {
	case s.queue <- p:
	default:
		s.dropLog.Do(func() {
			s.log.Warnf("influx writer busy, dropping vehicle state points (queue %d)", stateQueue)
		})
	}
	return nil
}

// RecordArrival writes an arrival-rule outcome.
func (s *InfluxSink) RecordArrival(ev coremetrics.ArrivalEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("geofence_arrival").
		AddTag("vehicle_id", ev.VehicleID).
		AddTag("geofence", ev.Geofence).
		AddTag("success", strconv.FormatBool(ev.Success)).
		AddField("dispatch_log_id", ev.DispatchLogID).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000))
	if ev.Error != "" {
		p = p.AddField("error", ev.Error)
	}
	p = p.SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Flush sends queued vehicle states and waits for the write to finish.
func (s *InfluxSink) Flush() {
	done := make(chan struct{})
	select {
	case s.flushes <- done:
		<-done
	case <-s.stopped:
	}
}

// Close flushes queued points and releases the underlying client.
func (s *InfluxSink) Close() {
	s.once.Do(func() {
		close(s.stop)
		<-s.stopped
		s.client.Close()
		<-s.errDone
	})
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
