package domain

import "math"

// Zoom levels accepted for a viewport, matching web-mercator tile pyramids.
const (
	MinZoom = 0
	MaxZoom = 22
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports an InvalidCoordinateError for out-of-range or non-finite values.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) ||
		p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return &InvalidCoordinateError{Lat: p.Lat, Lon: p.Lon}
	}
	return nil
}

// Bounds represents a geographic bounding box. All four edges are inclusive.
// A box whose West edge is greater than its East edge wraps across the antimeridian.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Validate checks edge ranges and that North is not below South.
func (b Bounds) Validate() error {
	if err := (GeoPoint{Lat: b.North, Lon: b.East}).Validate(); err != nil {
		return err
	}
	if err := (GeoPoint{Lat: b.South, Lon: b.West}).Validate(); err != nil {
		return err
	}
	if b.South > b.North {
		return ErrInvalidViewport
	}
	return nil
}

// CrossesAntimeridian reports whether the box wraps from +180 to -180.
func (b Bounds) CrossesAntimeridian() bool {
	return b.West > b.East
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p GeoPoint) bool {
	if p.Lat < b.South || p.Lat > b.North {
		return false
	}
	if b.CrossesAntimeridian() {
		return p.Lon >= b.West || p.Lon <= b.East
	}
	return p.Lon >= b.West && p.Lon <= b.East
}

// Split returns the box as one or two non-wrapping boxes.
func (b Bounds) Split() []Bounds {
	if !b.CrossesAntimeridian() {
		return []Bounds{b}
	}
	return []Bounds{
		{North: b.North, South: b.South, West: b.West, East: 180},
		{North: b.North, South: b.South, West: -180, East: b.East},
	}
}

// Center returns the midpoint of the box.
func (b Bounds) Center() GeoPoint {
	lat := (b.North + b.South) / 2
	if !b.CrossesAntimeridian() {
		return GeoPoint{Lat: lat, Lon: (b.East + b.West) / 2}
	}
	lon := (b.West + b.East + 360) / 2
	if lon > 180 {
		lon -= 360
	}
	return GeoPoint{Lat: lat, Lon: lon}
}

// Viewport is the visible map region plus the zoom level that drives
// clustering granularity.
type Viewport struct {
	Bounds Bounds `json:"bounds"`
	Zoom   int    `json:"zoom"`
}

// Validate checks the bounds and zoom range.
func (v Viewport) Validate() error {
	if err := v.Bounds.Validate(); err != nil {
		return err
	}
	if v.Zoom < MinZoom || v.Zoom > MaxZoom {
		return ErrInvalidViewport
	}
	return nil
}

// DefaultViewport is the map opened on New York at zoom 12.
func DefaultViewport() Viewport {
	return Viewport{
		Bounds: Bounds{North: 40.80, South: 40.62, East: -73.90, West: -74.11},
		Zoom:   12,
	}
}
