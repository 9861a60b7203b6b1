// Package geofence loads the geofence table from files or PostgreSQL.
package geofence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"gopkg.in/yaml.v3"

	coregeo "github.com/kilianp07/fleetlive/core/geofence"
)

// FileLoader reads geofences from a JSON, YAML or GeoJSON file.
//
// JSON and YAML files hold a list of locations, optionally under a
// "locations" key. GeoJSON files hold a FeatureCollection of Point or
// MultiPoint features named by their "name" property.
type FileLoader struct {
	Path string
}

// Load implements coregeo.Loader.
func (l FileLoader) Load(_ context.Context) ([]coregeo.Location, error) {
	b, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read geofences: %w", err)
	}
	var locs []coregeo.Location
	switch ext := strings.ToLower(filepath.Ext(l.Path)); ext {
	case ".geojson":
		locs, err = decodeGeoJSON(b)
	case ".json":
		if isFeatureCollection(b) {
			locs, err = decodeGeoJSON(b)
		} else {
			locs, err = decodeJSON(b)
		}
	case ".yaml", ".yml":
		locs, err = decodeYAML(b)
	default:
		return nil, fmt.Errorf("unsupported geofence file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", l.Path, err)
	}
	if err := validate(locs); err != nil {
		return nil, fmt.Errorf("%s: %w", l.Path, err)
	}
	return locs, nil
}

type document struct {
	Locations []coregeo.Location `json:"locations" yaml:"locations"`
}

func decodeJSON(b []byte) ([]coregeo.Location, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var locs []coregeo.Location
		err := json.Unmarshal(b, &locs)
		return locs, err
	}
	var doc document
	err := json.Unmarshal(b, &doc)
	return doc.Locations, err
}

func decodeYAML(b []byte) ([]coregeo.Location, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return nil, err
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var locs []coregeo.Location
		err := node.Decode(&locs)
		return locs, err
	}
	var doc document
	err := node.Decode(&doc)
	return doc.Locations, err
}

func isFeatureCollection(b []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(b, &probe) == nil && probe.Type == "FeatureCollection"
}

func decodeGeoJSON(b []byte) ([]coregeo.Location, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, err
	}
	locs := make([]coregeo.Location, 0, len(fc.Features))
	for i, f := range fc.Features {
		name, _ := f.Properties["name"].(string)
		if name == "" {
			name = f.ID
		}
		var coords []coregeo.Coordinate
		switch g := f.Geometry.(type) {
		case *geom.Point:
			coords = append(coords, coregeo.Coordinate{Lat: g.Y(), Lng: g.X()})
		case *geom.MultiPoint:
			for j := 0; j < g.NumPoints(); j++ {
				p := g.Point(j)
				coords = append(coords, coregeo.Coordinate{Lat: p.Y(), Lng: p.X()})
			}
		default:
			return nil, fmt.Errorf("feature %d (%s): unsupported geometry %T", i, name, f.Geometry)
		}
		locs = append(locs, coregeo.Location{Name: name, Coordinates: coords})
	}
	return locs, nil
}

func validate(locs []coregeo.Location) error {
	for i, l := range locs {
		if strings.TrimSpace(l.Name) == "" {
			return fmt.Errorf("geofence %d has no name", i)
		}
		if len(l.Coordinates) == 0 {
			return fmt.Errorf("geofence %q has no coordinates", l.Name)
		}
		for _, c := range l.Coordinates {
			if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
				return fmt.Errorf("geofence %q: coordinate %v,%v out of range", l.Name, c.Lat, c.Lng)
			}
		}
	}
	return nil
}

// ErrUnknownSource is returned by NewLoader for an unsupported source.
var ErrUnknownSource = errors.New("unknown geofence source")
