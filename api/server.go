// Package api assembles the HTTP surface of the live map service.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/fleetlive/api/arrivals"
	"github.com/kilianp07/fleetlive/api/fleet"
	"github.com/kilianp07/fleetlive/api/vehicles"
	"github.com/kilianp07/fleetlive/core/arrivallog"
	"github.com/kilianp07/fleetlive/core/channel"
	"github.com/kilianp07/fleetlive/infra/logger"
)

// Fleet is the reconciled state read by the API.
type Fleet interface {
	vehicles.Reader
	fleet.GeofenceSource
	fleet.Counter
}

// Deps lists what the routes read from.
type Deps struct {
	Fleet         Fleet
	Assignments   fleet.AssignmentLister
	Arrivals      arrivallog.Store
	ArrivalsToken string
	Driver        string
	Health        *channel.Health
	// Live serves the websocket feed at /ws when set.
	Live http.Handler
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// RateLimit throttles the /api routes when set.
	RateLimit *RateLimiter
}

// NewMux registers every route.
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) {
		if d.RateLimit != nil {
			h = d.RateLimit.Middleware(h)
		}
		mux.Handle(pattern, h)
	}
	vehicles.Register(handlerFunc(handle), d.Fleet)
	handle("GET /api/geofences", fleet.NewGeofenceHandler(d.Fleet))
	handle("GET /api/geofences/match", fleet.NewMatchHandler(d.Fleet))
	if d.Assignments != nil {
		handle("GET /api/assignments", fleet.NewAssignmentsHandler(d.Assignments))
	}
	store := d.Arrivals
	if store == nil {
		store = arrivallog.NopStore{}
	}
	handle("GET /api/arrivals", arrivals.NewHandler(store, d.ArrivalsToken))
	health := d.Health
	if health == nil {
		health = channel.NewHealth(0)
	}
	mux.Handle("GET /api/health", fleet.NewHealthHandler(d.Driver, health, d.Fleet))
	if d.Live != nil {
		mux.Handle("GET /ws", d.Live)
	}
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

type handlerFunc func(pattern string, h http.Handler)

func (f handlerFunc) Handle(pattern string, h http.Handler) { f(pattern, h) }

// Serve runs an HTTP server on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, h http.Handler, log logger.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("http server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("http server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
