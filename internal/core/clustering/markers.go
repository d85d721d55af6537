package clustering

import "github.com/samirrijal/etxea/internal/core/domain"

// ToMarkers converts clusters into renderable markers. Single-member
// clusters become plain listing pins without cluster metadata.
func ToMarkers(clusters []domain.Cluster) []domain.Marker {
	markers := make([]domain.Marker, 0, len(clusters))
	for _, c := range clusters {
		if c.IsSingle() {
			markers = append(markers, domain.Marker{
				Position:   c.Centroid,
				Count:      1,
				ListingIDs: c.MemberIDs,
			})
			continue
		}
		markers = append(markers, domain.Marker{
			Position:   c.Centroid,
			IsCluster:  true,
			Count:      c.Count(),
			ListingIDs: c.MemberIDs,
			Radius:     c.BoundingRadius,
		})
	}
	return markers
}

// Summarize aggregates the attributes of a cluster's members for a callout.
// Members the lookup cannot resolve are skipped.
func Summarize(c domain.Cluster, lookup Lookup) domain.ClusterSummary {
	s := domain.ClusterSummary{Centroid: c.Centroid, ByType: make(map[domain.PropertyType]int)}
	var total float64
	for _, id := range c.MemberIDs {
		l, ok := lookup.Get(id)
		if !ok {
			continue
		}
		if s.Count == 0 {
			s.PriceMin, s.PriceMax = l.Price, l.Price
			s.BedsRange = [2]int{l.Bedrooms, l.Bedrooms}
		}
		s.Count++
		total += l.Price
		s.PriceMin = min(s.PriceMin, l.Price)
		s.PriceMax = max(s.PriceMax, l.Price)
		s.BedsRange[0] = min(s.BedsRange[0], l.Bedrooms)
		s.BedsRange[1] = max(s.BedsRange[1], l.Bedrooms)
		s.ByType[l.PropertyType]++
	}
	if s.Count > 0 {
		s.PriceAvg = total / float64(s.Count)
	}
	return s
}
