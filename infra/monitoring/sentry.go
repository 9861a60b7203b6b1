package monitoring

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/kilianp07/fleetlive/config"
	coremon "github.com/kilianp07/fleetlive/core/monitoring"
)

// NewSentryMonitor initializes Sentry using the provided configuration and
// returns a Monitor implementation. An empty DSN yields a NopMonitor.
func NewSentryMonitor(cfg config.SentryConfig) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		ServerName:       cfg.ServerName,
	})
	if err != nil {
		return nil, err
	}
	return &sentryMonitor{hub: sentry.CurrentHub()}, nil
}

type sentryMonitor struct {
	hub *sentry.Hub
}

func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		s.hub.CaptureException(err)
	})
}

func (s *sentryMonitor) CapturePanic(v any, tags map[string]string) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetLevel(sentry.LevelFatal)
		s.hub.Recover(v)
	})
}

func (s *sentryMonitor) Flush(timeout time.Duration) { s.hub.Flush(timeout) }
