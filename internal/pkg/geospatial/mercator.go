package geospatial

import "math"

// equatorMetersPerPixel is the ground resolution of a 256px web-mercator tile at zoom 0.
const equatorMetersPerPixel = 156543.03392

// MetersPerPixel approximates the ground distance covered by one screen pixel
// at the given latitude and zoom, for tiles of tileSize pixels.
func MetersPerPixel(lat float64, zoom int, tileSize int) float64 {
	if tileSize <= 0 {
		tileSize = 256
	}
	scale := 256 / float64(tileSize)
	return equatorMetersPerPixel * scale * math.Cos(toRad(lat)) / math.Pow(2, float64(zoom))
}
