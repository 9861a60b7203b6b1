package simulator

import (
	"errors"
	"time"
)

// Config holds parameters for the bus simulator.
type Config struct {
	Count int
	// IDStart is the vehicle number of the first bus.
	IDStart  int
	Interval time.Duration
	// IdleTicks and AlleyTicks are how many events a bus emits in each
	// stationary phase before moving on.
	IdleTicks  int
	AlleyTicks int
	// RoadTicks is the number of events a trip takes to reach its terminal.
	RoadTicks int
	// SpeedKMH is the mean cruising speed reported on the road.
	SpeedKMH float64
	Seed     uint64
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Count <= 0 {
		c.Count = 1
	}
	if c.IDStart <= 0 {
		c.IDStart = 1
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.IdleTicks <= 0 {
		c.IdleTicks = 3
	}
	if c.AlleyTicks <= 0 {
		c.AlleyTicks = 3
	}
	if c.RoadTicks <= 0 {
		c.RoadTicks = 10
	}
	if c.SpeedKMH <= 0 {
		c.SpeedKMH = 35
	}
}

// Validate checks the simulator parameters.
func (c Config) Validate() error {
	if c.Count > 10000 {
		return errors.New("simulator: count must not exceed 10000")
	}
	if c.RoadTicks < 2 {
		return errors.New("simulator: road ticks must be at least 2")
	}
	return nil
}
