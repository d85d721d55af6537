package http

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/etxea/internal/core/domain"
)

// renderGeoJSON encodes a render set as a FeatureCollection of points, one per
// marker. Cluster features carry point_count like common map clients expect.
func renderGeoJSON(set domain.RenderSet) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, m := range set.Markers {
		f := geojson.NewFeature(orb.Point{m.Position.Lon, m.Position.Lat})
		f.Properties["cluster"] = m.IsCluster
		f.Properties["point_count"] = m.Count
		f.Properties["listing_ids"] = m.ListingIDs
		if m.IsCluster {
			f.Properties["radius"] = m.Radius
		} else if len(m.ListingIDs) == 1 {
			f.ID = m.ListingIDs[0]
		}
		fc.Append(f)
	}
	b := set.Viewport.Bounds
	fc.BBox = geojson.BBox{b.West, b.South, b.East, b.North}
	fc.ExtraMembers = geojson.Properties{
		"generation": set.Generation,
		"total":      set.Total,
		"zoom":       set.Viewport.Zoom,
	}
	return fc.MarshalJSON()
}
