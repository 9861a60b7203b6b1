// Package geofence holds the static table of named terminal locations used
// by the arrival rule.
package geofence

import (
	"context"

	"gonum.org/v1/gonum/floats/scalar"
)

// DefaultTolerance is the per-axis match tolerance in degrees (about 11m at the equator).
const DefaultTolerance = 0.0001

// Coordinate is a candidate point of a geofence location.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Location is a named geofence with one or more candidate coordinates.
type Location struct {
	Name        string       `json:"name" yaml:"name"`
	Coordinates []Coordinate `json:"coordinates" yaml:"coordinates"`
}

// Match describes the geofence entry that matched a position.
type Match struct {
	Name       string     `json:"name"`
	Coordinate Coordinate `json:"coordinate"`
}

// Loader fetches the geofence table from its external source.
type Loader interface {
	Load(ctx context.Context) ([]Location, error)
}

// Table is an immutable, ordered geofence table.
type Table struct {
	locations []Location
	tolerance float64
}

// NewTable copies locs into a new table. A non-positive tolerance selects
// DefaultTolerance.
func NewTable(locs []Location, tolerance float64) *Table {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	cp := make([]Location, len(locs))
	for i, l := range locs {
		cp[i] = Location{Name: l.Name, Coordinates: append([]Coordinate(nil), l.Coordinates...)}
	}
	return &Table{locations: cp, tolerance: tolerance}
}

// Match returns the first location, in table order then coordinate order,
// whose candidate lies within the tolerance on both axes independently.
// A nil or empty table never matches.
func (t *Table) Match(lat, lng float64) (Match, bool) {
	if t == nil {
		return Match{}, false
	}
	for _, loc := range t.locations {
		for _, c := range loc.Coordinates {
			if scalar.EqualWithinAbs(c.Lat, lat, t.tolerance) && scalar.EqualWithinAbs(c.Lng, lng, t.tolerance) {
				return Match{Name: loc.Name, Coordinate: c}, true
			}
		}
	}
	return Match{}, false
}

// Locations returns a copy of the table entries.
func (t *Table) Locations() []Location {
	if t == nil {
		return nil
	}
	out := make([]Location, len(t.locations))
	for i, l := range t.locations {
		out[i] = Location{Name: l.Name, Coordinates: append([]Coordinate(nil), l.Coordinates...)}
	}
	return out
}

// Len reports the number of named locations.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.locations)
}

// Tolerance reports the per-axis tolerance in degrees.
func (t *Table) Tolerance() float64 {
	if t == nil {
		return DefaultTolerance
	}
	return t.tolerance
}
