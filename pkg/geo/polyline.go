package geo

// DecodePolyline decodes a Google encoded polyline into map-order
// coordinates. Coordinates are stored as signed deltas at 1e-5 precision,
// latitude first within each pair.
func DecodePolyline(encoded string) []LatLng {
	var points []LatLng
	index, lat, lng := 0, 0, 0

	for index < len(encoded) {
		dLat, next, ok := decodeVarint(encoded, index)
		if !ok {
			break
		}
		lat += dLat
		index = next

		dLng, next, ok := decodeVarint(encoded, index)
		if !ok {
			break
		}
		lng += dLng
		index = next

		points = append(points, LatLng{
			Latitude:  float64(lat) / 1e5,
			Longitude: float64(lng) / 1e5,
		})
	}

	return points
}

// decodeVarint reads one zigzag-encoded value starting at index. Returns the
// decoded delta, the index past the value, and whether a full value was read.
func decodeVarint(encoded string, index int) (int, int, bool) {
	result, shift := 0, 0
	for {
		if index >= len(encoded) {
			return 0, index, false
		}
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), index, true
	}
	return result >> 1, index, true
}
