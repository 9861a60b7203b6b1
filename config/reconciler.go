package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/kilianp07/fleetlive/core/reconciler"
)

// ReconcilerConfig tunes vehicle state reconciliation.
type ReconcilerConfig struct {
	// LaneBuffer is the per-vehicle queue length.
	LaneBuffer int `json:"lane_buffer"`
	// Timezone renders the display time, e.g. "Asia/Manila".
	Timezone   string `json:"timezone"`
	NamePrefix string `json:"name_prefix"`
	// SnapshotPath, when set, persists vehicle states across restarts.
	SnapshotPath              string `json:"snapshot_path"`
	EndDispatchTimeoutSeconds int    `json:"end_dispatch_timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *ReconcilerConfig) SetDefaults() {
	if c.LaneBuffer <= 0 {
		c.LaneBuffer = reconciler.DefaultLaneBuffer
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.NamePrefix == "" {
		c.NamePrefix = reconciler.DefaultNamePrefix
	}
	if c.EndDispatchTimeoutSeconds <= 0 {
		c.EndDispatchTimeoutSeconds = 15
	}
}

// Validate checks that the timezone exists.
func (c ReconcilerConfig) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("reconciler: %w", err)
	}
	return nil
}

// Location resolves the display timezone.
func (c ReconcilerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c ReconcilerConfig) EndDispatchTimeout() time.Duration {
	return time.Duration(c.EndDispatchTimeoutSeconds) * time.Second
}
