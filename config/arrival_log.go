package config

import (
	"fmt"

	"github.com/kilianp07/fleetlive/core/arrivallog"
)

// ArrivalLogConfig defines settings for arrival audit storage and rotation.
type ArrivalLogConfig struct {
	// Backend selects the log store type: "jsonl" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location of the log store. Empty disables the log.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *ArrivalLogConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
}

// Validate checks mandatory fields.
func (c ArrivalLogConfig) Validate() error {
	if c.Backend != "jsonl" && c.Backend != "sqlite" {
		return fmt.Errorf("arrival_log: unknown backend %s", c.Backend)
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("arrival_log: rotation settings must not be negative")
	}
	return nil
}

// Open creates the configured store.
func (c ArrivalLogConfig) Open() (arrivallog.Store, error) {
	return arrivallog.Open(c.Backend, c.Path, arrivallog.Rotation{
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	})
}
