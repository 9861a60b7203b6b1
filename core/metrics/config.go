package metrics

import (
	"fmt"

	"github.com/kilianp07/fleetlive/core/factory"
)

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks" koanf:"sinks"`
}

// SetDefaults leaves an empty sink list, which resolves to NopSink.
func (c *Config) SetDefaults() {}

// Validate checks that every sink names a type.
func (c Config) Validate() error {
	for i, s := range c.Sinks {
		if s.Type == "" {
			return fmt.Errorf("metrics.sinks[%d].type is required", i)
		}
	}
	return nil
}
