// Package clustering groups the listings visible in a viewport into map
// markers.
//
// The engine is a single greedy pass: listings are visited in latitude,
// longitude, id order and each one joins the oldest cluster whose centroid
// lies within the pixel threshold converted to meters at the viewport's zoom.
// Clusters are bucketed on a grid whose cell side equals the threshold so a
// listing only inspects the clusters of its own and the eight neighbouring
// cells. The result is an approximation of optimal clustering that is stable
// for a fixed input.
package clustering

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/pkg/geospatial"
)

const (
	DefaultPixelRadius = 60
	DefaultTileSize    = 256

	// maxMercatorLat is where web-mercator tiles end.
	maxMercatorLat = 85.05112878
	minCellDeg     = 1e-9
)

// Lookup resolves listings by id.
type Lookup interface {
	Get(id string) (*domain.Listing, bool)
}

// Engine clusters listings for a viewport. PixelRadius is the on-screen
// distance under which listings merge.
type Engine struct {
	PixelRadius float64
	TileSize    int
}

// NewEngine returns an engine, falling back to defaults for non-positive values.
func NewEngine(pixelRadius float64, tileSize int) Engine {
	if pixelRadius <= 0 || math.IsNaN(pixelRadius) {
		pixelRadius = DefaultPixelRadius
	}
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	return Engine{PixelRadius: pixelRadius, TileSize: tileSize}
}

// Threshold returns the clustering distance in meters for v, measured at the
// latitude of the viewport centre.
func (e Engine) Threshold(v domain.Viewport) float64 {
	lat := v.Bounds.Center().Lat
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	return e.PixelRadius * geospatial.MetersPerPixel(lat, v.Zoom, e.TileSize)
}

type point struct {
	id       string
	lat, lon float64
}

type cellKey struct {
	row, col int64
}

type cluster struct {
	sumLat, sumLon float64
	lat, lon       float64
	members        []point
	cell           cellKey
}

type grid struct {
	latDeg, lonDeg float64
	cells          map[cellKey][]int
}

func (g *grid) key(lat, lon float64) cellKey {
	return cellKey{
		row: int64(math.Floor(lat / g.latDeg)),
		col: int64(math.Floor(lon / g.lonDeg)),
	}
}

func (g *grid) add(k cellKey, idx int) {
	g.cells[k] = append(g.cells[k], idx)
}

func (g *grid) move(idx int, from, to cellKey) {
	bucket := g.cells[from]
	if i := slices.Index(bucket, idx); i >= 0 {
		bucket = slices.Delete(bucket, i, i+1)
	}
	if len(bucket) == 0 {
		delete(g.cells, from)
	} else {
		g.cells[from] = bucket
	}
	g.add(to, idx)
}

// Cluster partitions ids into clusters for viewport v. Every id lands in
// exactly one cluster; an empty input yields no clusters. Member order inside
// a cluster is processing order.
func (e Engine) Cluster(ids []string, v domain.Viewport, lookup Lookup) ([]domain.Cluster, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Cluster{}, nil
	}

	wrap := v.Bounds.CrossesAntimeridian()
	pts := make([]point, 0, len(ids))
	maxAbsLat := 0.0
	for _, id := range ids {
		l, ok := lookup.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		lon := l.Location.Lon
		// unwrap so the two sides of the antimeridian are adjacent
		if wrap && lon < v.Bounds.West {
			lon += 360
		}
		pts = append(pts, point{id: id, lat: l.Location.Lat, lon: lon})
		maxAbsLat = math.Max(maxAbsLat, math.Abs(l.Location.Lat))
	}
	slices.SortFunc(pts, func(a, b point) int {
		return cmp.Or(cmp.Compare(a.lat, b.lat), cmp.Compare(a.lon, b.lon), cmp.Compare(a.id, b.id))
	})

	threshold := math.Max(e.Threshold(v), 0)
	latDeg, lonDeg := geospatial.MetersToDegrees(maxAbsLat, threshold)
	g := &grid{
		latDeg: math.Max(latDeg, minCellDeg),
		lonDeg: math.Max(lonDeg, minCellDeg),
		cells:  make(map[cellKey][]int),
	}

	var clusters []*cluster
	for _, p := range pts {
		k := g.key(p.lat, p.lon)
		best := -1
		for dr := int64(-1); dr <= 1; dr++ {
			for dc := int64(-1); dc <= 1; dc++ {
				for _, idx := range g.cells[cellKey{row: k.row + dr, col: k.col + dc}] {
					if best >= 0 && idx >= best {
						continue
					}
					c := clusters[idx]
					if geospatial.Haversine(c.lat, c.lon, p.lat, p.lon) <= threshold {
						best = idx
					}
				}
			}
		}

		if best < 0 {
			clusters = append(clusters, &cluster{
				sumLat: p.lat, sumLon: p.lon,
				lat: p.lat, lon: p.lon,
				members: []point{p},
				cell:    k,
			})
			g.add(k, len(clusters)-1)
			continue
		}

		c := clusters[best]
		c.members = append(c.members, p)
		c.sumLat += p.lat
		c.sumLon += p.lon
		n := float64(len(c.members))
		c.lat, c.lon = c.sumLat/n, c.sumLon/n
		if nk := g.key(c.lat, c.lon); nk != c.cell {
			g.move(best, c.cell, nk)
			c.cell = nk
		}
	}

	out := make([]domain.Cluster, len(clusters))
	for i, c := range clusters {
		members := make([]string, len(c.members))
		radius := 0.0
		for j, m := range c.members {
			members[j] = m.id
			radius = math.Max(radius, geospatial.Haversine(c.lat, c.lon, m.lat, m.lon))
		}
		lon := c.lon
		if lon > 180 {
			lon -= 360
		}
		out[i] = domain.Cluster{
			Centroid:       domain.GeoPoint{Lat: c.lat, Lon: lon},
			MemberIDs:      members,
			BoundingRadius: radius,
		}
	}
	return out, nil
}
