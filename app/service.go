package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/fleetlive/api"
	"github.com/kilianp07/fleetlive/api/live"
	"github.com/kilianp07/fleetlive/config"
	"github.com/kilianp07/fleetlive/core/arrivallog"
	"github.com/kilianp07/fleetlive/core/assignments"
	"github.com/kilianp07/fleetlive/core/channel"
	coregeo "github.com/kilianp07/fleetlive/core/geofence"
	coremetrics "github.com/kilianp07/fleetlive/core/metrics"
	coremon "github.com/kilianp07/fleetlive/core/monitoring"
	"github.com/kilianp07/fleetlive/core/reconciler"
	"github.com/kilianp07/fleetlive/core/vehiclestatus"
	"github.com/kilianp07/fleetlive/infra/backend"
	infrageo "github.com/kilianp07/fleetlive/infra/geofence"
	"github.com/kilianp07/fleetlive/infra/logger"
	"github.com/kilianp07/fleetlive/infra/metrics"
	"github.com/kilianp07/fleetlive/infra/monitoring"
	"github.com/kilianp07/fleetlive/infra/mqtt"
	"github.com/kilianp07/fleetlive/infra/nats"
	"github.com/kilianp07/fleetlive/infra/telemetry"
)

// Service wires the channel, the reconciler and the HTTP surface together.
type Service struct {
	cfg *config.Config
	log logger.Logger

	Reconciler  *reconciler.Reconciler
	Router      *reconciler.Router
	Assignments *assignments.Cache

	source    channel.Source
	health    *channel.Health
	telemetry *telemetry.Manager
	hub       *live.Hub
	backend   *backend.Client
	loader    coregeo.Loader
	loaderC   io.Closer
	arrivals  arrivallog.Store
	sink      coremetrics.MetricsSink
	monitor   coremon.Monitor

	closeOnce sync.Once
}

// New creates a Service from the configuration. It connects to the channel
// and loads the geofence table, so it fails fast on unreachable dependencies.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	log := logger.New("service")
	s := &Service{cfg: cfg, log: log}

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)
	s.monitor = mon

	s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	s.loader, s.loaderC, err = infrageo.NewLoader(cfg.Geofence)
	if err != nil {
		return nil, fmt.Errorf("geofence loader: %w", err)
	}
	table, err := infrageo.LoadTable(ctx, s.loader, cfg.Geofence.Tolerance)
	if err != nil {
		s.loaderC.Close()
		return nil, fmt.Errorf("load geofences: %w", err)
	}
	log.Infof("loaded %d geofences (tolerance %g)", table.Len(), table.Tolerance())

	s.arrivals, err = cfg.ArrivalLog.Open()
	if err != nil {
		s.loaderC.Close()
		return nil, fmt.Errorf("arrival log: %w", err)
	}

	s.backend = backend.NewClient(cfg.Backend)
	s.Assignments = assignments.NewCache(s.backend)

	loc, err := cfg.Reconciler.Location()
	if err != nil {
		s.release()
		return nil, err
	}
	rec, err := reconciler.New(vehiclestatus.NewMemoryStore(), table, s.backend, logger.New("reconciler"))
	if err != nil {
		s.release()
		return nil, err
	}
	rec.SetRefresher(s.Assignments)
	rec.SetSink(s.sink)
	rec.SetArrivalLog(s.arrivals)
	rec.SetMonitor(mon)
	rec.SetLocation(loc)
	rec.SetNamePrefix(cfg.Reconciler.NamePrefix)
	rec.SetEndTimeout(cfg.Reconciler.EndDispatchTimeout())
	s.Reconciler = rec
	s.restoreSnapshot()

	s.Router, err = reconciler.NewRouter(rec, cfg.Reconciler.LaneBuffer, logger.New("lanes"))
	if err != nil {
		s.release()
		return nil, err
	}
	s.Router.SetMonitor(mon)

	s.health = channel.NewHealth(cfg.Channel.StaleAfter())
	s.source, err = NewSource(cfg.Channel, s.health.SetConnected)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("channel: %w", err)
	}
	s.health.SetConnected(s.source.Connected())

	s.telemetry, err = telemetry.NewManager(s.source, s.Router, s.health, logger.New("telemetry"), telemetry.Options{
		IDFromSubject: cfg.Channel.SubjectIDs(),
		Registerer:    prometheus.DefaultRegisterer,
	})
	if err != nil {
		s.source.Close()
		s.release()
		return nil, err
	}
	s.hub = live.NewHub(rec, s.health, cfg.HTTP.AllowedOrigins, logger.New("live"))
	return s, nil
}

// Transport is a connected channel client able to both receive and send.
type Transport interface {
	channel.Source
	channel.Publisher
}

// NewSource connects the configured transport.
func NewSource(cfg config.ChannelConfig, onStatus func(bool)) (Transport, error) {
	switch cfg.Driver {
	case "nats":
		c, err := nats.Connect(cfg.NATS, onStatus)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "", "mqtt":
		c, err := mqtt.NewClient(cfg.MQTT, onStatus)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown channel driver %q", cfg.Driver)
	}
}

func (s *Service) restoreSnapshot() {
	path := s.cfg.Reconciler.SnapshotPath
	if path == "" {
		return
	}
	snap, err := vehiclestatus.LoadSnapshot(path)
	if err != nil {
		s.log.Warnf("snapshot ignored: %v", err)
		return
	}
	if n := s.Reconciler.Restore(snap.Vehicles); n > 0 {
		s.log.Infof("restored %d vehicles from snapshot saved at %s", n, snap.SavedAt.Format(time.RFC3339))
	}
}

func (s *Service) saveSnapshot() {
	path := s.cfg.Reconciler.SnapshotPath
	if path == "" || s.Reconciler == nil {
		return
	}
	if err := vehiclestatus.SaveSnapshot(path, s.Reconciler.List(""), time.Now()); err != nil {
		s.log.Errorf("save snapshot: %v", err)
	}
}

// Run starts consuming telemetry and serving HTTP until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.Assignments.RefreshAssignments(ctx); err != nil {
		s.log.Warnf("initial assignment load: %v", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := s.telemetry.Start(ctx); err != nil {
			errCh <- fmt.Errorf("telemetry: %w", err)
		}
	}()
	go s.hub.Run(ctx)
	metrics.StartStatusCollector(ctx, s.cfg.Channel.Driver, s.source, s.Reconciler, s.sink, s.cfg.Channel.StatusInterval())
	if sec := s.cfg.Geofence.ReloadSeconds; sec > 0 {
		go s.reloadGeofences(ctx, time.Duration(sec)*time.Second)
	}

	var limiter *api.RateLimiter
	if s.cfg.HTTP.RateLimitRPS > 0 {
		limiter = api.NewRateLimiter(s.cfg.HTTP.RateLimitRPS, s.cfg.HTTP.RateLimitBurst)
	}
	mux := api.NewMux(api.Deps{
		Fleet:         s.Reconciler,
		Assignments:   s.Assignments,
		Arrivals:      s.arrivals,
		ArrivalsToken: s.cfg.HTTP.ArrivalsToken,
		Driver:        s.cfg.Channel.Driver,
		Health:        s.health,
		Live:          s.hub,
		RateLimit:     limiter,
	})
	go func() {
		if err := api.Serve(ctx, s.cfg.HTTP.Address, mux, logger.New("http")); err != nil {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Service) reloadGeofences(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t, err := infrageo.LoadTable(ctx, s.loader, s.cfg.Geofence.Tolerance)
			if err != nil {
				s.log.Warnf("geofence reload failed, keeping %d entries: %v", s.Reconciler.Geofences().Len(), err)
				continue
			}
			s.Reconciler.SetGeofences(t)
			s.log.Debugf("reloaded %d geofences", t.Len())
		}
	}
}

// Close drains the lanes, persists the snapshot and releases resources.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.source != nil {
			if err := s.source.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.Router != nil {
			if err := s.Router.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("drain lanes: %w", err))
			}
		}
		s.saveSnapshot()
		errs = append(errs, s.release())
		coremon.Flush(2 * time.Second)
	})
	return errors.Join(errs...)
}

func (s *Service) release() error {
	var errs []error
	if s.arrivals != nil {
		if err := s.arrivals.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.loaderC != nil {
		if err := s.loaderC.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	return errors.Join(errs...)
}
