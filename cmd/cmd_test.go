package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geofences = `- name: Depot
  coordinates:
    - {lat: 14.5995, lng: 120.9842}
- name: Terminal
  coordinates:
    - {lat: 14.6760, lng: 121.0437}
`

func writeTestConfig(t *testing.T, backendURL string) string {
	t.Helper()
	dir := t.TempDir()
	geo := filepath.Join(dir, "geofences.yaml")
	require.NoError(t, os.WriteFile(geo, []byte(geofences), 0o644))
	cfg := fmt.Sprintf(`channel:
  mqtt:
    broker: "tcp://127.0.0.1:1"
backend:
  base_url: %q
geofence:
  path: %q
`, backendURL, geo)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestGeofenceLs(t *testing.T) {
	path := writeTestConfig(t, "http://127.0.0.1:1")
	out, err := execute(t, "geofence", "ls", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Depot\t14.599500\t120.984200")
	assert.Contains(t, out, "Terminal")
}

func TestGeofenceMatch(t *testing.T) {
	path := writeTestConfig(t, "http://127.0.0.1:1")
	out, err := execute(t, "geofence", "match", "14.67605", "121.04365", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Terminal")

	_, err = execute(t, "geofence", "match", "10", "10", "-c", path)
	assert.ErrorContains(t, err, "no geofence")

	_, err = execute(t, "geofence", "match", "north", "10", "-c", path)
	assert.ErrorContains(t, err, "invalid latitude")
}

func TestDispatchEnd(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	path := writeTestConfig(t, srv.URL)
	out, err := execute(t, "dispatch", "end", "991", "-c", path)
	require.NoError(t, err)
	assert.Equal(t, "POST /dispatch-logs/991/dispatch/end", got)
	assert.Contains(t, out, "end 991: ok")
}

func TestFleetLsRejectsStatus(t *testing.T) {
	path := writeTestConfig(t, "http://127.0.0.1:1")
	_, err := execute(t, "fleet", "ls", "--status", "parked", "-c", path)
	assert.ErrorContains(t, err, "invalid status")
	fleetStatus = "all"
}
