package telemetry

// Span attribute keys shared by the render paths.
const (
	AttrZoom      = "map.zoom"
	AttrPredicate = "map.predicate"
	AttrCacheHit  = "cache.hit"
	AttrShared    = "render.shared"
	AttrMarkers   = "render.markers"
	AttrListings  = "render.listings"
	AttrClusters  = "render.clusters"
)
