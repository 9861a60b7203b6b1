package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/fleetlive/core/metrics"
	"github.com/kilianp07/fleetlive/infra/backend"
	"github.com/kilianp07/fleetlive/infra/geofence"
)

type Config struct {
	Channel    ChannelConfig    `json:"channel"`
	Backend    backend.Config   `json:"backend"`
	Geofence   geofence.Config  `json:"geofence"`
	Reconciler ReconcilerConfig `json:"reconciler"`
	ArrivalLog ArrivalLogConfig `json:"arrival_log"`
	Metrics    metrics.Config   `json:"metrics"`
	HTTP       HTTPConfig       `json:"http"`
	Sentry     SentryConfig     `json:"sentry"`
}

// Load reads path, applies K_ prefixed environment overrides (K_HTTP__ADDRESS
// sets http.address) and validates every section. A .env file in the
// working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Channel.SetDefaults()
	c.Backend.SetDefaults()
	c.Geofence.SetDefaults()
	c.Reconciler.SetDefaults()
	c.ArrivalLog.SetDefaults()
	c.Metrics.SetDefaults()
	c.HTTP.SetDefaults()
	c.Sentry.SetDefaults()
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	return errors.Join(
		c.Channel.Validate(),
		c.Backend.Validate(),
		c.Geofence.Validate(),
		c.Reconciler.Validate(),
		c.ArrivalLog.Validate(),
		c.Metrics.Validate(),
		c.HTTP.Validate(),
		c.Sentry.Validate(),
	)
}
