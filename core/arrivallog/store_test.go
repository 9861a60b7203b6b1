package arrivallog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords(base time.Time) []Record {
	return []Record{
		{Timestamp: base, VehicleID: "1", DispatchLogID: "10", Geofence: "North", Success: true},
		{Timestamp: base.Add(time.Minute), VehicleID: "2", DispatchLogID: "20", Geofence: "South", Success: false, Error: "status 500"},
		{Timestamp: base.Add(2 * time.Minute), VehicleID: "1", DispatchLogID: "11", Geofence: "South", Success: true},
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	for _, r := range sampleRecords(base) {
		require.NoError(t, s.Append(ctx, r))
	}

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "10", all[0].DispatchLogID)

	byVehicle, err := s.Query(ctx, Query{VehicleID: "1"})
	require.NoError(t, err)
	assert.Len(t, byVehicle, 2)

	failed := false
	byOutcome, err := s.Query(ctx, Query{Success: &failed})
	require.NoError(t, err)
	require.Len(t, byOutcome, 1)
	assert.Equal(t, "status 500", byOutcome[0].Error)

	windowed, err := s.Query(ctx, Query{Start: base.Add(30 * time.Second), Geofence: "South"})
	require.NoError(t, err)
	assert.Len(t, windowed, 2)

	latest, err := s.Query(ctx, Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "11", latest[0].DispatchLogID)
}

func TestJSONLStore(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "arrivals.jsonl"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestRotatingJSONLStore(t *testing.T) {
	s, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "logs", "arrivals.jsonl"), 1, 2, 1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestRotatingJSONLStore_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arrivals.jsonl")
	s, err := NewRotatingJSONLStore(path, 1, 5, 1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	rec := Record{Timestamp: time.Now(), VehicleID: "1", Error: strings.Repeat("x", 4096)}
	for i := 0; i < 300; i++ {
		require.NoError(t, s.Append(context.Background(), rec))
	}
	files, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "arrivals*"))
	assert.Greater(t, len(files), 1, "expected rotated files")

	out, err := s.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, out, 300)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore("file:arrivals_test.db?mode=memory&cache=shared")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	s, err := Open("jsonl", "", Rotation{})
	require.NoError(t, err)
	assert.IsType(t, NopStore{}, s)

	s, err = Open("jsonl", filepath.Join(t.TempDir(), "a.jsonl"), Rotation{MaxSizeMB: 1})
	require.NoError(t, err)
	assert.IsType(t, &RotatingJSONLStore{}, s)
	_ = s.Close()

	_, err = Open("redis", "x", Rotation{})
	assert.Error(t, err)
}
