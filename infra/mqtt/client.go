package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/fleetlive/core/channel"
	"github.com/kilianp07/fleetlive/core/monitoring"
	"github.com/kilianp07/fleetlive/infra/logger"
)

// DefaultTopic receives one message per vehicle, the last level being the
// vehicle id.
const DefaultTopic = "fleet/vehicles/+"

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string      `json:"broker" koanf:"broker"`
	ClientID   string      `json:"client_id" koanf:"client_id"`
	Username   string      `json:"username" koanf:"username"`
	Password   string      `json:"password" koanf:"password"`
	Topic      string      `json:"topic" koanf:"topic"`
	QoS        byte        `json:"qos" koanf:"qos"`
	UseTLS     bool        `json:"use_tls" koanf:"use_tls"`
	ClientCert string      `json:"client_cert" koanf:"client_cert"`
	ClientKey  string      `json:"client_key" koanf:"client_key"`
	CABundle   string      `json:"ca_bundle" koanf:"ca_bundle"`
	AuthMethod string      `json:"auth_method" koanf:"auth_method"`
	LWTTopic   string      `json:"lwt_topic" koanf:"lwt_topic"`
	LWTPayload string      `json:"lwt_payload" koanf:"lwt_payload"`
	LWTQoS     byte        `json:"lwt_qos" koanf:"lwt_qos"`
	LWTRetain  bool        `json:"lwt_retain" koanf:"lwt_retain"`
	MaxRetries int         `json:"max_retries" koanf:"max_retries"`
	BackoffMS  int         `json:"backoff_ms" koanf:"backoff_ms"`
	TLSConfig  *tls.Config `json:"-" koanf:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks the broker settings.
func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt: broker is required")
	}
	if c.QoS > 2 || c.LWTQoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2")
	}
	switch c.AuthMethod {
	case "", "username_password", "certificate", "both":
	default:
		return fmt.Errorf("mqtt: unknown auth_method %q", c.AuthMethod)
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Client is the MQTT implementation of channel.Source and channel.Publisher.
type Client struct {
	cli    pahoClient
	topic  string
	qos    byte
	log    logger.Logger
	status func(bool)

	mu      sync.Mutex
	handler channel.Handler
	closed  bool

	maxRetries int
	backoff    time.Duration
}

var (
	_ channel.Source    = (*Client)(nil)
	_ channel.Publisher = (*Client)(nil)
)

// NewClient connects to the broker. onStatus, when non-nil, is called on
// every connect and connection loss.
func NewClient(cfg Config, onStatus func(connected bool)) (*Client, error) {
	cfg.SetDefaults()
	if cfg.ClientID == "" {
		cfg.ClientID = "fleetlive-" + uuid.NewString()
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	c := &Client{
		topic:      cfg.Topic,
		qos:        cfg.QoS,
		log:        log,
		status:     onStatus,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}

	opts.OnConnect = func(pc paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		c.setStatus(true)
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h == nil {
			return
		}
		if token := pc.Subscribe(c.topic, c.qos, c.onMessage); token.Wait() && token.Error() != nil {
			log.Errorf("resubscribe %s: %v", c.topic, token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
		c.setStatus(false)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	pc := newMQTTClient(opts)
	c.cli = pc
	if token := pc.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return c, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetOrderMatters(false)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("ca bundle %s has no certificates", c.CABundle)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (c *Client) setStatus(ok bool) {
	if c.status != nil {
		c.status(ok)
	}
}

// Subscribe registers h for the configured topic. The subscription is
// renewed on every reconnect.
func (c *Client) Subscribe(ctx context.Context, h channel.Handler) error {
	if h == nil {
		return errors.New("mqtt: nil handler")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return channel.ErrClosed
	}
	c.handler = h
	c.mu.Unlock()

	if err := waitToken(ctx, c.cli.Subscribe(c.topic, c.qos, c.onMessage)); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	c.log.Infof("subscribed to %s (qos %d)", c.topic, c.qos)
	return nil
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return
	}
	h(channel.Message{Subject: msg.Topic(), Payload: msg.Payload(), Received: time.Now()})
}

// Connected reports the broker connection state.
func (c *Client) Connected() bool {
	return c.cli != nil && c.cli.IsConnected()
}

// Publish sends payload to topic, retrying with exponential backoff.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return channel.ErrClosed
	}
	var publishErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		publishErr = waitToken(ctx, c.cli.Publish(topic, c.qos, false, payload))
		if publishErr == nil {
			c.log.Debugf("published %d bytes to %s", len(payload), topic)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		c.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-time.After(c.backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{"module": "mqtt", "topic": topic})
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Close unsubscribes and gracefully closes the MQTT connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subscribed := c.handler != nil
	c.handler = nil
	c.mu.Unlock()

	if c.cli == nil || !c.cli.IsConnected() {
		return nil
	}
	if subscribed {
		if token := c.cli.Unsubscribe(c.topic); token.WaitTimeout(time.Second) && token.Error() != nil {
			c.log.Warnf("unsubscribe %s: %v", c.topic, token.Error())
		}
	}
	c.cli.Disconnect(250)
	c.setStatus(false)
	return nil
}

func waitToken(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
