package config

import "fmt"

// HTTPConfig configures the API and live map server.
type HTTPConfig struct {
	Address string `json:"address"`
	// ArrivalsToken protects GET /api/arrivals when set.
	ArrivalsToken string `json:"arrivals_token"`
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string `json:"allowed_origins"`
	// RateLimitRPS throttles /api requests per client address. Zero disables it.
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
}

// Validate checks mandatory fields.
func (c HTTPConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("http: address is required")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("http: rate limit must not be negative")
	}
	return nil
}
