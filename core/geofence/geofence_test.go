package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchWithinTolerance(t *testing.T) {
	tbl := NewTable([]Location{{Name: "Terminal", Coordinates: []Coordinate{{Lat: 10.00005, Lng: 20.00005}}}}, 0)
	m, ok := tbl.Match(10.0, 20.0)
	require.True(t, ok)
	assert.Equal(t, "Terminal", m.Name)
	assert.Equal(t, DefaultTolerance, tbl.Tolerance())
}

func TestMatchIsPerAxis(t *testing.T) {
	tbl := NewTable([]Location{{Name: "T", Coordinates: []Coordinate{{Lat: 10.00009, Lng: 25}}}}, 0)
	_, ok := tbl.Match(10.0, 20.0)
	assert.False(t, ok)
	_, ok = tbl.Match(10.0, 25.0002)
	assert.False(t, ok)
}

func TestMatchFirstWins(t *testing.T) {
	tbl := NewTable([]Location{
		{Name: "Far", Coordinates: []Coordinate{{Lat: 1, Lng: 1}}},
		{Name: "North", Coordinates: []Coordinate{{Lat: 5, Lng: 5}, {Lat: 10.00001, Lng: 20}}},
		{Name: "South", Coordinates: []Coordinate{{Lat: 10, Lng: 20}}},
	}, 0)
	m, ok := tbl.Match(10, 20)
	require.True(t, ok)
	assert.Equal(t, "North", m.Name)
	assert.Equal(t, Coordinate{Lat: 10.00001, Lng: 20}, m.Coordinate)
}

func TestMatchEmptyTable(t *testing.T) {
	var nilTable *Table
	_, ok := nilTable.Match(1, 2)
	assert.False(t, ok)
	assert.Zero(t, nilTable.Len())

	_, ok = NewTable(nil, 0).Match(1, 2)
	assert.False(t, ok)

	_, ok = NewTable([]Location{{Name: "Empty"}}, 0).Match(1, 2)
	assert.False(t, ok)
}

func TestTableIsImmutable(t *testing.T) {
	src := []Location{{Name: "A", Coordinates: []Coordinate{{Lat: 1, Lng: 1}}}}
	tbl := NewTable(src, 0.5)
	src[0].Coordinates[0].Lat = 50
	locs := tbl.Locations()
	locs[0].Name = "changed"
	_, ok := tbl.Match(1, 1)
	assert.True(t, ok)
	assert.Equal(t, "A", tbl.Locations()[0].Name)
	assert.Equal(t, 1, tbl.Len())
}
