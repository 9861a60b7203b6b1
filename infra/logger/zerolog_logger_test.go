package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Warnw("warn", map[string]any{"vehicle_id": "7"})
	l.Errorf("error")
}

func TestZerologLoggerStructuredFields(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	var buf bytes.Buffer
	l := NewWithWriter("reconciler", &buf)
	l.Warnw("event dropped", map[string]any{"vehicle_id": "12", "reason": "missing_location"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "reconciler", line["component"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "12", line["vehicle_id"])
	assert.Equal(t, "missing_location", line["reason"])
}

func TestZerologLoggerLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	var buf bytes.Buffer
	l := NewWithWriter("lanes", &buf)
	l.Debugf("hidden")
	l.Infof("hidden")
	l.Errorf("shown")
	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.True(t, strings.Contains(out, "shown"))
}

func TestOutputCopiesToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetlive.log")
	env := map[string]string{"LOG_FILE": path, "LOG_FILE_MAX_MB": "1"}
	w := newOutput(func(k string) string { return env[k] })

	l := NewWithWriter("telemetry", w)
	l.Errorf("decode failed for %s", "fleet/vehicles/9")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"telemetry"`)
	assert.Contains(t, string(data), "fleet/vehicles/9")
}

func TestOutputDefaultsToStdout(t *testing.T) {
	w := newOutput(func(string) string { return "" })
	assert.Equal(t, os.Stdout, w)
}
