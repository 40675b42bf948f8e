// Package view holds the map view state: layer, zoom, center and markers.
//
// Everything here is pure arithmetic on an in-memory value. Fetching images
// and geocoding live in the service package, which owns a State and mutates
// it through the methods in this package.
package view

import "fmt"

// Layer is the tile layer code sent to the static map server.
type Layer string

const (
	LayerMap       Layer = "map"
	LayerSatellite Layer = "sat"
	LayerHybrid    Layer = "sat,skl"
)

// Layers lists every supported layer in display order.
var Layers = []Layer{LayerMap, LayerSatellite, LayerHybrid}

// ParseLayer validates a wire layer code.
func ParseLayer(code string) (Layer, error) {
	for _, l := range Layers {
		if string(l) == code {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown layer %q", code)
}

// Limits bounds the zoom level, inclusive on both ends.
type Limits struct {
	MinZoom int `json:"minZoom" yaml:"minZoom"`
	MaxZoom int `json:"maxZoom" yaml:"maxZoom"`
}

// DefaultLimits matches the zoom range of the static map server.
var DefaultLimits = Limits{MinZoom: 1, MaxZoom: 17}

// DefaultZoom is the zoom a fresh view starts at.
const DefaultZoom = 12

// Contains reports whether z is inside the limits.
func (l Limits) Contains(z int) bool {
	return z >= l.MinZoom && z <= l.MaxZoom
}

// Size is the requested image size in pixels.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// DefaultSize is the image size requested when none is configured.
var DefaultSize = Size{Width: 600, Height: 360}

// Marker is a JSON-friendly marker coordinate.
type Marker struct {
	Lon float64 `json:"lon" doc:"Longitude in degrees" example:"37.6"`
	Lat float64 `json:"lat" doc:"Latitude in degrees" example:"55.7"`
}

// Snapshot is a read-only copy of a State for API responses.
type Snapshot struct {
	Layer     Layer    `json:"layer" doc:"Layer code: map, sat or sat,skl" example:"map"`
	Zoom      int      `json:"zoom" doc:"Zoom level" example:"12"`
	Lon       float64  `json:"lon" doc:"Center longitude" example:"37.6"`
	Lat       float64  `json:"lat" doc:"Center latitude" example:"55.7"`
	HasCenter bool     `json:"hasCenter" doc:"Whether a center has been set by a search"`
	Markers   []Marker `json:"markers" doc:"Markers in insertion order"`
	Limits    Limits   `json:"limits" doc:"Zoom limits"`
}
