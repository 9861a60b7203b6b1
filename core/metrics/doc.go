// Package metrics defines the sinks that observe the vehicle state
// reconciler. Sinks like PromSink and InfluxSink record vehicle snapshots,
// arrival-rule outcomes and channel connectivity, and can be combined with
// NewMultiSink. The factory helpers return a MultiSink automatically when
// multiple sinks are configured. Optional capabilities are discovered by
// type assertion on the recorder interfaces.
package metrics
