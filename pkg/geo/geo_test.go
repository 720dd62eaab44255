package geo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceKnownPair(t *testing.T) {
	// Paris to London, roughly 344 km.
	paris := LatLng{Latitude: 48.8566, Longitude: 2.3522}
	london := LatLng{Latitude: 51.5074, Longitude: -0.1278}

	d := Distance(paris, london)
	assert.InDelta(t, 343500, d, 2000)
}

func TestDistanceZeroForSamePoint(t *testing.T) {
	p := LatLng{Latitude: 10.5, Longitude: 20.25}
	assert.Equal(t, 0.0, Distance(p, p))
}

func TestDistanceSmallMovement(t *testing.T) {
	// ~1.11 m per 1e-5 degrees of latitude.
	a := LatLng{Latitude: 41.0, Longitude: 2.0}
	b := LatLng{Latitude: 41.00001, Longitude: 2.0}
	assert.InDelta(t, 1.11, Distance(a, b), 0.05)
}

func TestPointRoundTrip(t *testing.T) {
	c := LatLng{Latitude: 41.39, Longitude: 2.17}
	p := NewPoint(c, "Barcelona")

	// GeoJSON wire order is [lon, lat].
	assert.Equal(t, 2.17, p.Coordinates[0])
	assert.Equal(t, 41.39, p.Coordinates[1])
	assert.Equal(t, c, p.LatLng())
}

func TestPointJSONWireShape(t *testing.T) {
	p := NewPoint(LatLng{Latitude: -33.86, Longitude: 151.2}, "")
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Point","coordinates":[151.2,-33.86]}`, string(data))
}

func TestPointValidate(t *testing.T) {
	assert.NoError(t, NewPoint(LatLng{Latitude: 45, Longitude: 90}, "").Validate())

	bad := Point{Type: "LineString", Coordinates: [2]float64{0, 0}}
	assert.ErrorIs(t, bad.Validate(), ErrNotAPoint)

	outOfRange := Point{Type: "Point", Coordinates: [2]float64{0, 91}}
	assert.ErrorIs(t, outOfRange.Validate(), ErrInvalidLatitude)
}

func TestDecodePolyline(t *testing.T) {
	// Canonical example from the encoded polyline format documentation.
	points := DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")

	require.Len(t, points, 3)
	assert.InDelta(t, 38.5, points[0].Latitude, 1e-9)
	assert.InDelta(t, -120.2, points[0].Longitude, 1e-9)
	assert.InDelta(t, 40.7, points[1].Latitude, 1e-9)
	assert.InDelta(t, -120.95, points[1].Longitude, 1e-9)
	assert.InDelta(t, 43.252, points[2].Latitude, 1e-9)
	assert.InDelta(t, -126.453, points[2].Longitude, 1e-9)
}

func TestDecodePolylineEmptyAndTruncated(t *testing.T) {
	assert.Empty(t, DecodePolyline(""))
	// A truncated stream must not panic; partial pairs are discarded.
	assert.NotPanics(t, func() { DecodePolyline("_p~iF") })
}

func TestPathDistance(t *testing.T) {
	points := []LatLng{
		{Latitude: 41.0, Longitude: 2.0},
		{Latitude: 41.0001, Longitude: 2.0},
		{Latitude: 41.0002, Longitude: 2.0},
	}
	assert.InDelta(t, 22.2, PathDistance(points), 0.5)
	assert.Equal(t, 0.0, PathDistance(nil))
	assert.Equal(t, 0.0, PathDistance(points[:1]))
}
