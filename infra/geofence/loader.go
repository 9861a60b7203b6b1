package geofence

import (
	"context"
	"fmt"
	"io"

	coregeo "github.com/kilianp07/fleetlive/core/geofence"
)

// Config selects where the geofence table comes from.
type Config struct {
	// Source is "file" or "postgres".
	Source    string  `json:"source" koanf:"source"`
	Path      string  `json:"path" koanf:"path"`
	DSN       string  `json:"dsn" koanf:"dsn"`
	Table     string  `json:"table" koanf:"table"`
	Tolerance float64 `json:"tolerance" koanf:"tolerance"`
	// ReloadSeconds, when positive, reloads the table periodically.
	ReloadSeconds int `json:"reload_seconds" koanf:"reload_seconds"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Source == "" {
		c.Source = "file"
	}
	if c.Tolerance <= 0 {
		c.Tolerance = coregeo.DefaultTolerance
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
}

// Validate checks the source settings.
func (c Config) Validate() error {
	switch c.Source {
	case "file":
		if c.Path == "" {
			return fmt.Errorf("geofence: path is required for file source")
		}
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("geofence: dsn is required for postgres source")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownSource, c.Source)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("geofence: tolerance must not be negative")
	}
	return nil
}

// NewLoader builds the loader for cfg. The returned closer releases any
// connection held by the loader.
func NewLoader(cfg Config) (coregeo.Loader, io.Closer, error) {
	switch cfg.Source {
	case "", "file":
		return FileLoader{Path: cfg.Path}, io.NopCloser(nil), nil
	case "postgres":
		l, err := OpenPostgres(cfg.DSN, cfg.Table)
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	default:
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownSource, cfg.Source)
	}
}

// LoadTable loads the locations and builds a table with the configured tolerance.
func LoadTable(ctx context.Context, l coregeo.Loader, tolerance float64) (*coregeo.Table, error) {
	locs, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return coregeo.NewTable(locs, tolerance), nil
}
