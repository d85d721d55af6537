package domain

import "time"

// Cluster is a derived group of nearby listings. It is recomputed per query
// and never persisted.
type Cluster struct {
	Centroid       GeoPoint `json:"centroid"`
	MemberIDs      []string `json:"member_ids"`
	BoundingRadius float64  `json:"bounding_radius"` // meters from centroid to farthest member
}

// Count returns the number of member listings.
func (c Cluster) Count() int { return len(c.MemberIDs) }

// IsSingle reports whether the cluster renders as a plain listing pin.
func (c Cluster) IsSingle() bool { return len(c.MemberIDs) == 1 }

// Marker is one renderable item: a listing pin or a cluster bubble.
type Marker struct {
	Position   GeoPoint `json:"position"`
	IsCluster  bool     `json:"is_cluster"`
	Count      int      `json:"count"`
	ListingIDs []string `json:"listing_ids"`
	Radius     float64  `json:"radius,omitempty"`
}

// RenderSet is the output of one coordinator computation.
type RenderSet struct {
	Generation uint64    `json:"generation"`
	Viewport   Viewport  `json:"viewport"`
	Markers    []Marker  `json:"markers"`
	Total      int       `json:"total"` // listings represented by the markers
	Stale      bool      `json:"stale"`
	Err        string    `json:"error,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

// ClusterSummary aggregates listing attributes of one cluster for the
// cluster callout.
type ClusterSummary struct {
	Centroid  GeoPoint             `json:"centroid"`
	Count     int                  `json:"count"`
	PriceMin  float64              `json:"price_min"`
	PriceMax  float64              `json:"price_max"`
	PriceAvg  float64              `json:"price_avg"`
	ByType    map[PropertyType]int `json:"by_type"`
	BedsRange [2]int               `json:"beds_range"`
}
