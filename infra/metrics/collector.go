package metrics

import (
	"context"
	"time"

	coremetrics "github.com/kilianp07/fleetlive/core/metrics"
)

// Connectivity reports whether a channel is currently connected.
type Connectivity interface {
	Connected() bool
}

// FleetCounter reports the number of tracked vehicles.
type FleetCounter interface {
	Len() int
}

// StartStatusCollector polls the channel connectivity and fleet size every
// interval and forwards them to the sink. Connectivity is recorded on every
// change and once at start. It stops when the context is canceled.
func StartStatusCollector(ctx context.Context, driver string, conn Connectivity, fleet FleetCounter, sink coremetrics.MetricsSink, interval time.Duration) {
	if sink == nil || (conn == nil && fleet == nil) {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		first := true
		var last bool
		for {
			if conn != nil {
				if r, ok := sink.(coremetrics.ChannelStatusRecorder); ok {
					cur := conn.Connected()
					if first || cur != last {
						_ = r.RecordChannelStatus(coremetrics.ChannelStatusEvent{Driver: driver, Connected: cur, Time: time.Now()})
					}
					last = cur
				}
			}
			if fleet != nil {
				if r, ok := sink.(coremetrics.FleetSizeRecorder); ok {
					_ = r.RecordFleetSize(fleet.Len())
				}
			}
			first = false
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
