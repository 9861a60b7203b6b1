package monitoring

import (
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetlive/config"
	coremon "github.com/kilianp07/fleetlive/core/monitoring"
)

func TestNewSentryMonitorWithoutDSN(t *testing.T) {
	m, err := NewSentryMonitor(config.SentryConfig{})
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, m)
}

func TestSentryMonitorTagsEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://key@example.com/1",
		BeforeSend: func(ev *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	m := &sentryMonitor{hub: sentry.NewHub(client, sentry.NewScope())}

	m.CaptureException(errors.New("end dispatch failed"), map[string]string{"vehicle_id": "7"})
	m.CaptureException(nil, nil)
	m.CapturePanic("lane crashed", map[string]string{"vehicle_id": "8"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, "7", events[0].Tags["vehicle_id"])
	assert.Equal(t, "8", events[1].Tags["vehicle_id"])
	assert.Equal(t, sentry.LevelFatal, events[1].Level)
}
