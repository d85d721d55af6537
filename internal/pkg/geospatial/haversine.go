package geospatial

import "math"

// EarthRadiusMeters is the mean earth radius used by every distance in the service.
const EarthRadiusMeters = 6371000.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	if a > 1 {
		a = 1
	}

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// BoundingBox returns a box that contains every point within radiusMeters of
// (lat, lon) on the haversine sphere. The box is clamped to the poles; when it
// spans the whole longitude range minLon=-180 and maxLon=180. When the box
// crosses the antimeridian minLon > maxLon.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	angular := radiusMeters / EarthRadiusMeters
	latDelta := toDeg(angular) + 1e-9

	minLat = lat - latDelta
	maxLat = lat + latDelta
	if minLat <= -90 || maxLat >= 90 || angular >= math.Pi/2 {
		return math.Max(minLat, -90), -180, math.Min(maxLat, 90), 180
	}

	s := math.Sin(angular) / math.Cos(toRad(lat))
	if s >= 1 {
		return minLat, -180, maxLat, 180
	}
	lonDelta := toDeg(math.Asin(s)) + 1e-9

	minLon = lon - lonDelta
	maxLon = lon + lonDelta
	if minLon < -180 {
		minLon += 360
	}
	if maxLon > 180 {
		maxLon -= 360
	}
	return minLat, minLon, maxLat, maxLon
}

// MetersToDegrees converts a ground distance into degree spans at a latitude.
// The longitude span is capped at 360 near the poles.
func MetersToDegrees(lat, meters float64) (latDeg, lonDeg float64) {
	latDeg = toDeg(meters / EarthRadiusMeters)
	c := math.Cos(toRad(lat))
	if c < 1e-6 {
		return latDeg, 360
	}
	lonDeg = math.Min(latDeg/c, 360)
	return latDeg, lonDeg
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
