package metrics_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/fleetlive/core/factory"
	metrics "github.com/kilianp07/fleetlive/core/metrics"
	_ "github.com/kilianp07/fleetlive/infra/metrics"
)

func TestBuiltinSinkTypes(t *testing.T) {
	assert.Subset(t, metrics.SinkTypes(), []string{"nop", "prometheus", "influx"})
}

func TestNewMetricsSink(t *testing.T) {
	s, err := metrics.NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "nop"}})
	require.NoError(t, err)
	m, ok := s.(*metrics.MultiSink)
	require.True(t, ok, "expected MultiSink, got %T", s)
	assert.Len(t, m.Sinks, 2)
}

func TestUnknownSinkNamesIndex(t *testing.T) {
	_, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "statsd"}})
	assert.ErrorContains(t, err, "metrics.sinks[1]")
}

func TestSinksFromYAML(t *testing.T) {
	data := `sinks:
  - type: nop
  - type: influx
    conf:
      url: http://127.0.0.1:1
      org: fleet
      bucket: vehicles
`
	var cfg metrics.Config
	require.NoError(t, yaml.Unmarshal([]byte(data), &cfg))
	require.NoError(t, cfg.Validate())
	s, err := metrics.NewMetricsSink(cfg.Sinks)
	require.NoError(t, err)
	assert.IsType(t, &metrics.MultiSink{}, s)
}

func TestSinksFromJSONMissingType(t *testing.T) {
	var cfg metrics.Config
	require.NoError(t, json.Unmarshal([]byte(`{"sinks":[{"conf":{}}]}`), &cfg))
	assert.ErrorContains(t, cfg.Validate(), "metrics.sinks[0].type")
}
