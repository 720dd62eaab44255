package geo

import (
	"errors"
	"math"
)

// Coordinate errors
var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
	ErrNotAPoint        = errors.New("geometry is not a GeoJSON Point")
)

// LatLng is a coordinate pair in map order (latitude first). This is the
// form used for distance math and map rendering.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that the coordinate is inside the WGS84 range.
func (c LatLng) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return ErrInvalidLatitude
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

// Point is a GeoJSON Point as it appears on the wire. Coordinates are
// [longitude, latitude] — the REVERSE of LatLng. Every crossing between the
// two representations must go through LatLng()/NewPoint so the axis swap
// happens in exactly one place.
type Point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
	Place       string     `json:"place,omitempty"`
}

// NewPoint builds a GeoJSON Point from a map-order coordinate.
func NewPoint(c LatLng, place string) Point {
	return Point{
		Type:        "Point",
		Coordinates: [2]float64{c.Longitude, c.Latitude},
		Place:       place,
	}
}

// LatLng converts the wire point back to map order.
func (p Point) LatLng() LatLng {
	return LatLng{
		Latitude:  p.Coordinates[1],
		Longitude: p.Coordinates[0],
	}
}

// Validate checks the GeoJSON type tag and the coordinate range.
func (p Point) Validate() error {
	if p.Type != "Point" {
		return ErrNotAPoint
	}
	return p.LatLng().Validate()
}

const earthRadiusMeters = 6371e3

// Distance returns the great-circle distance between two coordinates in
// meters, using the haversine formula.
func Distance(a, b LatLng) float64 {
	phi1 := toRadians(a.Latitude)
	phi2 := toRadians(b.Latitude)
	dPhi := toRadians(b.Latitude - a.Latitude)
	dLambda := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(dLambda/2)*math.Sin(dLambda/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// PathDistance returns the summed leg distance of a polyline in meters.
func PathDistance(points []LatLng) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
