package config

import (
	"fmt"
	"os"
)

// SentryConfig defines settings for Sentry error monitoring. An empty DSN
// disables reporting.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
	Release          string  `json:"release"`
	// ServerName tags every event, defaulting to the hostname.
	ServerName string `json:"server_name"`
}

// SetDefaults applies sane defaults.
func (c *SentryConfig) SetDefaults() {
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.ServerName == "" {
		if h, err := os.Hostname(); err == nil {
			c.ServerName = h
		}
	}
}

// Validate checks the sampling rate.
func (c SentryConfig) Validate() error {
	if c.TracesSampleRate < 0 || c.TracesSampleRate > 1 {
		return fmt.Errorf("sentry: traces_sample_rate must be between 0 and 1")
	}
	return nil
}
