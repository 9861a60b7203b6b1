package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/fleetlive/core/channel"
	"github.com/kilianp07/fleetlive/core/geofence"
	"github.com/kilianp07/fleetlive/core/logger"
)

// Fleet drives a set of simulated buses between the terminals of a
// geofence table.
type Fleet struct {
	Buses []*Bus

	interval time.Duration
	log      logger.Logger
}

// GenerateFleet creates cfg.Count buses numbered from cfg.IDStart. Buses are
// spread over the terminals of locs, one coordinate per terminal.
func GenerateFleet(cfg Config, locs []geofence.Location, log logger.Logger) (*Fleet, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var stops []geofence.Coordinate
	var names []string
	for _, l := range locs {
		if len(l.Coordinates) == 0 {
			continue
		}
		stops = append(stops, l.Coordinates[0])
		names = append(names, l.Name)
	}
	if len(stops) == 0 {
		return nil, errors.New("simulator: at least one geofence is required")
	}
	f := &Fleet{interval: cfg.Interval, log: log}
	for i := 0; i < cfg.Count; i++ {
		f.Buses = append(f.Buses, newBus(cfg.IDStart+i, cfg, stops, names))
	}
	return f, nil
}

// SubjectFor fills the vehicle id into a subscription pattern. MQTT "+" and
// NATS "*" wildcards are replaced; a pattern without one is used as is.
func SubjectFor(pattern, id string) string {
	tokens := strings.FieldsFunc(pattern, func(r rune) bool { return r == '/' || r == '.' })
	for _, t := range tokens {
		if t == "+" || t == "*" {
			return strings.Replace(pattern, t, id, 1)
		}
	}
	return pattern
}

// Step publishes one event per bus.
func (f *Fleet) Step(ctx context.Context, pub channel.Publisher, pattern string, now time.Time) error {
	var errs []error
	for _, b := range f.Buses {
		if err := publish(ctx, pub, pattern, b, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func publish(ctx context.Context, pub channel.Publisher, pattern string, b *Bus, now time.Time) error {
	payload, err := json.Marshal(b.Next(now))
	if err != nil {
		return fmt.Errorf("encode event %s: %w", b.ID, err)
	}
	if err := pub.Publish(ctx, SubjectFor(pattern, b.ID), payload); err != nil {
		return fmt.Errorf("bus %s: %w", b.ID, err)
	}
	return nil
}

// Run publishes every interval until ctx is done. Buses tick concurrently.
func (f *Fleet) Run(ctx context.Context, pub channel.Publisher, pattern string) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			var wg sync.WaitGroup
			for _, b := range f.Buses {
				wg.Add(1)
				go func(b *Bus) {
					defer wg.Done()
					if err := publish(ctx, pub, pattern, b, now); err != nil && ctx.Err() == nil {
						f.log.Warnf("%v", err)
					}
				}(b)
			}
			wg.Wait()
		}
	}
}
