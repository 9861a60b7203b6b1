package metrics

import (
	"fmt"

	"github.com/kilianp07/fleetlive/core/factory"
)

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a metrics sink factory identified by name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinkRegistry.Register(name, f)
}

// SinkTypes lists the registered sink types.
func SinkTypes() []string { return sinkRegistry.Types() }

// NewMetricsSink builds the configured sinks. No config yields NopSink and
// more than one yields a MultiSink fanning out in config order.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	sinks := make([]MetricsSink, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := sinkRegistry.Create(c)
		if err != nil {
			return nil, fmt.Errorf("metrics.sinks[%d]: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	switch len(sinks) {
	case 0:
		return NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
