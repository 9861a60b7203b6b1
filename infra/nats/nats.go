// Package nats carries fleet telemetry over NATS core subjects.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kilianp07/fleetlive/core/channel"
	"github.com/kilianp07/fleetlive/core/monitoring"
	"github.com/kilianp07/fleetlive/infra/logger"
)

// DefaultSubject receives one message per vehicle, the last token being the
// vehicle id.
const DefaultSubject = "fleet.vehicles.*"

// Config holds the NATS connection settings.
type Config struct {
	URL     string `json:"url" koanf:"url"`
	Name    string `json:"name" koanf:"name"`
	Subject string `json:"subject" koanf:"subject"`
	// Queue, when set, joins a queue group so replicas share the stream.
	Queue string `json:"queue" koanf:"queue"`
	Token string `json:"token" koanf:"token"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "fleetlive"
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
}

// Validate checks the subject.
func (c Config) Validate() error {
	if c.Subject == "" {
		return errors.New("nats: subject is required")
	}
	return nil
}

// Client is the NATS implementation of channel.Source and channel.Publisher.
type Client struct {
	nc      *nats.Conn
	subject string
	queue   string
	log     logger.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	closed bool
}

var (
	_ channel.Source    = (*Client)(nil)
	_ channel.Publisher = (*Client)(nil)
)

// Connect dials the server. onStatus, when non-nil, follows the connection
// state through disconnects and reconnects.
func Connect(cfg Config, onStatus func(connected bool)) (*Client, error) {
	cfg.SetDefaults()
	log := logger.New("nats_client")
	set := func(ok bool) {
		if onStatus != nil {
			onStatus(ok)
		}
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			set(false)
			log.Warnf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			set(true)
			log.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			set(false)
			log.Infof("nats closed")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	set(true)
	return &Client{nc: nc, subject: cfg.Subject, queue: cfg.Queue, log: log}, nil
}

// Subscribe registers h on the configured subject.
func (c *Client) Subscribe(ctx context.Context, h channel.Handler) error {
	if h == nil {
		return errors.New("nats: nil handler")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.nc.IsClosed() {
		return channel.ErrClosed
	}
	if c.sub != nil {
		return errors.New("nats: already subscribed")
	}
	cb := func(m *nats.Msg) {
		h(channel.Message{Subject: m.Subject, Payload: m.Data, Received: time.Now()})
	}
	var (
		sub *nats.Subscription
		err error
	)
	if c.queue != "" {
		sub, err = c.nc.QueueSubscribe(c.subject, c.queue, cb)
	} else {
		sub, err = c.nc.Subscribe(c.subject, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}
	c.sub = sub
	c.log.Infof("subscribed to %s", c.subject)
	return nil
}

// Connected reports the connection state.
func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Publish sends payload on subject.
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.nc.IsClosed() {
		return channel.ErrClosed
	}
	if err := c.nc.Publish(subject, payload); err != nil {
		monitoring.CaptureException(err, map[string]string{"module": "nats", "subject": subject})
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.nc == nil || c.nc.IsClosed() {
		return nil
	}
	c.closed = true
	c.sub = nil
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}
