package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/fleetlive/infra/mqtt"
	"github.com/kilianp07/fleetlive/infra/nats"
)

// ChannelConfig selects and configures the fleet telemetry transport.
type ChannelConfig struct {
	// Driver is "mqtt" or "nats".
	Driver string      `json:"driver"`
	MQTT   mqtt.Config `json:"mqtt"`
	NATS   nats.Config `json:"nats"`
	// IDFromSubject fills a missing vehicle id from the last topic level.
	// Defaults to true.
	IDFromSubject *bool `json:"id_from_subject"`
	// StaleAfterSeconds flags the live feed as stale without messages.
	StaleAfterSeconds int `json:"stale_after_seconds"`
	// StatusIntervalSeconds is how often connectivity is sampled into metrics.
	StatusIntervalSeconds int `json:"status_interval_seconds"`
}

// SetDefaults applies sane defaults.
func (c *ChannelConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "mqtt"
	}
	if c.IDFromSubject == nil {
		v := true
		c.IDFromSubject = &v
	}
	if c.StaleAfterSeconds <= 0 {
		c.StaleAfterSeconds = 60
	}
	if c.StatusIntervalSeconds <= 0 {
		c.StatusIntervalSeconds = 5
	}
	c.MQTT.SetDefaults()
	c.NATS.SetDefaults()
}

// Validate checks the selected driver.
func (c ChannelConfig) Validate() error {
	switch c.Driver {
	case "mqtt":
		return c.MQTT.Validate()
	case "nats":
		return c.NATS.Validate()
	default:
		return fmt.Errorf("channel: unknown driver %q", c.Driver)
	}
}

// SubjectIDs reports whether vehicle ids may be taken from the subject.
func (c ChannelConfig) SubjectIDs() bool {
	return c.IDFromSubject == nil || *c.IDFromSubject
}

func (c ChannelConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

func (c ChannelConfig) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalSeconds) * time.Second
}
