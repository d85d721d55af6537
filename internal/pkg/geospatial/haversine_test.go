package geospatial

import (
	"math"
	"testing"
)

func TestHaversine_KnownDistance(t *testing.T) {
	// Bilbao Abando -> Madrid Atocha, roughly 320 km.
	d := Haversine(43.2603, -2.9334, 40.4065, -3.6895)
	if d < 315000 || d > 325000 {
		t.Errorf("expected ~320km, got %.0fm", d)
	}
	if Haversine(10, 10, 10, 10) != 0 {
		t.Error("expected zero distance for identical points")
	}
}

func TestBoundingBox_ContainsCircleExtremes(t *testing.T) {
	cases := []struct {
		lat, lon, radius float64
	}{
		{40.7128, -74.0060, 1500},
		{0, 0, 250000},
		{-33.86, 151.21, 42000},
		{64.1, -21.9, 80000},
	}
	for _, tc := range cases {
		minLat, minLon, maxLat, maxLon := BoundingBox(tc.lat, tc.lon, tc.radius)
		// Sample points exactly on the circle and confirm each lies inside the box.
		for bearing := 0.0; bearing < 360; bearing += 7.5 {
			lat, lon := destination(tc.lat, tc.lon, tc.radius, bearing)
			if lat < minLat || lat > maxLat || lon < minLon || lon > maxLon {
				t.Errorf("point (%f,%f) at bearing %.1f outside box [%f,%f,%f,%f]",
					lat, lon, bearing, minLat, minLon, maxLat, maxLon)
			}
		}
	}
}

func TestBoundingBox_Pole(t *testing.T) {
	_, minLon, maxLat, maxLon := BoundingBox(89.99, 10, 5000)
	if maxLat != 90 || minLon != -180 || maxLon != 180 {
		t.Errorf("expected polar box to span all longitudes, got %f..%f maxLat=%f", minLon, maxLon, maxLat)
	}
}

func TestBoundingBox_Antimeridian(t *testing.T) {
	_, minLon, _, maxLon := BoundingBox(0, 179.99, 5000)
	if minLon <= maxLon {
		t.Errorf("expected wrapped box, got minLon=%f maxLon=%f", minLon, maxLon)
	}
}

func TestMetersPerPixel(t *testing.T) {
	if got := MetersPerPixel(0, 0, 256); math.Abs(got-156543.03392) > 1e-6 {
		t.Errorf("zoom 0 equator: got %f", got)
	}
	z1 := MetersPerPixel(45, 10, 256)
	z2 := MetersPerPixel(45, 11, 256)
	if math.Abs(z1/z2-2) > 1e-9 {
		t.Errorf("each zoom level should halve resolution, got ratio %f", z1/z2)
	}
	if MetersPerPixel(0, 0, 512) >= MetersPerPixel(0, 0, 256) {
		t.Error("larger tiles should give finer resolution")
	}
}

// destination walks radius meters from (lat, lon) along bearing on the same sphere.
func destination(lat, lon, radius, bearing float64) (float64, float64) {
	d := radius / EarthRadiusMeters
	b := toRad(bearing)
	la := toRad(lat)
	lo := toRad(lon)
	lat2 := math.Asin(math.Sin(la)*math.Cos(d) + math.Cos(la)*math.Sin(d)*math.Cos(b))
	lon2 := lo + math.Atan2(math.Sin(b)*math.Sin(d)*math.Cos(la), math.Cos(d)-math.Sin(la)*math.Sin(lat2))
	return toDeg(lat2), toDeg(lon2)
}
