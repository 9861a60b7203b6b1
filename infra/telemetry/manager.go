package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/fleetlive/core/channel"
	"github.com/kilianp07/fleetlive/core/model"
	"github.com/kilianp07/fleetlive/core/reconciler"
	"github.com/kilianp07/fleetlive/infra/logger"
)

// Submitter queues decoded events for reconciliation.
type Submitter interface {
	Submit(ev model.Event) error
}

// Options tune how the manager interprets channel messages.
type Options struct {
	// IDFromSubject fills a missing vehicle id from the last subject token.
	IDFromSubject bool
	// Registerer receives the manager collectors. Nil skips registration.
	Registerer prometheus.Registerer
}

// Manager feeds telemetry from a channel source into the reconciler lanes.
type Manager struct {
	src    channel.Source
	sub    Submitter
	health *channel.Health
	log    logger.Logger
	opts   Options

	received     prometheus.Counter
	decodeErrors prometheus.Counter
	lastMessage  prometheus.Gauge
	submitWait   prometheus.Histogram
}

// NewManager wires src to sub. health may be nil.
func NewManager(src channel.Source, sub Submitter, health *channel.Health, log logger.Logger, opts Options) (*Manager, error) {
	if src == nil || sub == nil {
		return nil, errors.New("telemetry: nil source or submitter")
	}
	if log == nil {
		log = logger.New("telemetry")
	}
	m := &Manager{
		src:          src,
		sub:          sub,
		health:       health,
		log:          log,
		opts:         opts,
		received:     prometheus.NewCounter(prometheus.CounterOpts{Name: "fleetlive_telemetry_messages_total", Help: "Number of messages received on the fleet channel"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{Name: "fleetlive_telemetry_decode_errors_total", Help: "Number of channel messages that could not be decoded"}),
		lastMessage:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "fleetlive_telemetry_last_message_timestamp_seconds", Help: "Unix timestamp of the last channel message"}),
		submitWait:   prometheus.NewHistogram(prometheus.HistogramOpts{Name: "fleetlive_telemetry_submit_seconds", Help: "Time spent handing an event to its vehicle lane", Buckets: prometheus.DefBuckets}),
	}
	if reg := opts.Registerer; reg != nil {
		var err error
		if m.received, err = register(reg, m.received); err != nil {
			return nil, err
		}
		if m.decodeErrors, err = register(reg, m.decodeErrors); err != nil {
			return nil, err
		}
		if m.lastMessage, err = register(reg, m.lastMessage); err != nil {
			return nil, err
		}
		if m.submitWait, err = register(reg, m.submitWait); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// register adds c to reg, reusing the collector a previous manager
// registered under the same name.
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

// Start subscribes and blocks until ctx is done, then closes the source.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.src.Subscribe(ctx, m.handle); err != nil {
		return err
	}
	<-ctx.Done()
	if err := m.src.Close(); err != nil {
		m.log.Warnf("close source: %v", err)
	}
	return nil
}

func (m *Manager) handle(msg channel.Message) {
	m.received.Inc()
	if msg.Received.IsZero() {
		msg.Received = time.Now()
	}
	m.lastMessage.Set(float64(msg.Received.UnixNano()) / 1e9)
	if m.health != nil {
		m.health.Touch(msg.Received)
	}
	ev, err := m.process(msg)
	if err != nil {
		m.decodeErrors.Inc()
		reconciler.RecordDrop(err)
		m.log.Warnw("telemetry decode failed", map[string]any{"subject": msg.Subject, "error": err.Error()})
		return
	}
	start := time.Now()
	if err := m.sub.Submit(ev); err != nil {
		if errors.Is(err, reconciler.ErrClosed) {
			m.log.Debugf("event for %s after shutdown", ev.VehicleID)
			return
		}
		m.log.Errorf("submit event for %s: %v", ev.VehicleID, err)
	}
	m.submitWait.Observe(time.Since(start).Seconds())
}

func (m *Manager) process(msg channel.Message) (model.Event, error) {
	ev, err := model.DecodeEvent(msg.Payload)
	if err != nil {
		return model.Event{}, err
	}
	if ev.VehicleID == "" && m.opts.IDFromSubject {
		ev.VehicleID = model.ID(extractID(msg.Subject))
	}
	return ev, nil
}

func extractID(subject string) string {
	tok := strings.TrimSpace(channel.LastToken(subject))
	switch tok {
	case "+", "#", "*", ">":
		return ""
	}
	return tok
}
