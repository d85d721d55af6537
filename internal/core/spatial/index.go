// Package spatial implements a grid-bucketed index over listing coordinates.
//
// The world is cut into fixed-size latitude/longitude cells. Each cell keeps
// the ids whose coordinates fall inside it, so a bounding-box query only
// touches the cells the box overlaps and then checks exact containment.
package spatial

import (
	"fmt"
	"math"
	"slices"

	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/pkg/geospatial"
)

// DefaultCellSize is the cell edge in degrees (~5.5 km at the equator).
const DefaultCellSize = 0.05

type cellKey struct {
	row, col int32
}

func (k cellKey) compare(o cellKey) int {
	if k.row != o.row {
		return int(k.row - o.row)
	}
	return int(k.col - o.col)
}

type entry struct {
	loc  domain.GeoPoint
	cell cellKey
	slot int // position inside the cell bucket
}

// Index is a grid spatial index keyed by listing id.
// It is not safe for concurrent use; the listing store owns and guards it.
type Index struct {
	cellSize float64
	rows     int32
	cols     int32
	cells    map[cellKey][]string
	entries  map[string]*entry
}

// NewIndex creates an empty index with the given cell edge in degrees.
func NewIndex(cellSize float64) *Index {
	if cellSize <= 0 || cellSize > 90 {
		cellSize = DefaultCellSize
	}
	return &Index{
		cellSize: cellSize,
		rows:     int32(math.Ceil(180 / cellSize)),
		cols:     int32(math.Ceil(360 / cellSize)),
		cells:    make(map[cellKey][]string),
		entries:  make(map[string]*entry),
	}
}

// Len returns the number of indexed ids.
func (ix *Index) Len() int { return len(ix.entries) }

// CellSize returns the cell edge in degrees.
func (ix *Index) CellSize() float64 { return ix.cellSize }

// Location returns the indexed coordinate for id.
func (ix *Index) Location(id string) (domain.GeoPoint, bool) {
	e, ok := ix.entries[id]
	if !ok {
		return domain.GeoPoint{}, false
	}
	return e.loc, true
}

// Insert adds id at p. It fails with ErrDuplicateID if id is already indexed.
func (ix *Index) Insert(id string, p domain.GeoPoint) error {
	if _, ok := ix.entries[id]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	e := &entry{loc: p, cell: ix.cellFor(p)}
	ix.attach(id, e)
	ix.entries[id] = e
	return nil
}

// Update moves id to p. The entry is adjusted in place when p stays in the
// same cell, otherwise it is detached and reattached to the new cell.
func (ix *Index) Update(id string, p domain.GeoPoint) error {
	e, ok := ix.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	cell := ix.cellFor(p)
	if cell == e.cell {
		e.loc = p
		return nil
	}
	ix.detach(id, e)
	e.loc = p
	e.cell = cell
	ix.attach(id, e)
	return nil
}

// Remove deletes id. It fails with ErrNotFound if id is absent.
func (ix *Index) Remove(id string) error {
	e, ok := ix.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	ix.detach(id, e)
	delete(ix.entries, id)
	return nil
}

// QueryBoundingBox returns every id inside b, edges included. The order is
// deterministic for a fixed index state: cells in row/column order, ids in
// bucket order.
func (ix *Index) QueryBoundingBox(b domain.Bounds) []string {
	var out []string
	for _, part := range b.Split() {
		ix.scan(part, func(id string, e *entry) {
			if part.Contains(e.loc) {
				out = append(out, id)
			}
		})
	}
	return out
}

// QueryRadius returns every id whose great-circle distance to center is at
// most radiusMeters.
func (ix *Index) QueryRadius(center domain.GeoPoint, radiusMeters float64) []string {
	if radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return nil
	}
	minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(center.Lat, center.Lon, radiusMeters)
	box := domain.Bounds{North: maxLat, South: minLat, West: minLon, East: maxLon}

	var out []string
	for _, part := range box.Split() {
		ix.scan(part, func(id string, e *entry) {
			if !part.Contains(e.loc) {
				return
			}
			if geospatial.Haversine(center.Lat, center.Lon, e.loc.Lat, e.loc.Lon) <= radiusMeters {
				out = append(out, id)
			}
		})
	}
	return out
}

// scan visits every entry in cells overlapped by a non-wrapping box. When
// the box spans more cells than are occupied, the occupied cells are walked
// instead so a world-sized viewport stays proportional to the data.
func (ix *Index) scan(b domain.Bounds, fn func(id string, e *entry)) {
	lo := ix.cellFor(domain.GeoPoint{Lat: math.Max(b.South, -90), Lon: math.Max(b.West, -180)})
	hi := ix.cellFor(domain.GeoPoint{Lat: math.Min(b.North, 90), Lon: math.Min(b.East, 180)})
	if lo.row > hi.row || lo.col > hi.col {
		return
	}

	span := int64(hi.row-lo.row+1) * int64(hi.col-lo.col+1)
	if span > int64(len(ix.cells)) {
		keys := make([]cellKey, 0, len(ix.cells))
		for k := range ix.cells {
			if k.row >= lo.row && k.row <= hi.row && k.col >= lo.col && k.col <= hi.col {
				keys = append(keys, k)
			}
		}
		slices.SortFunc(keys, cellKey.compare)
		for _, k := range keys {
			ix.visit(k, fn)
		}
		return
	}

	for row := lo.row; row <= hi.row; row++ {
		for col := lo.col; col <= hi.col; col++ {
			ix.visit(cellKey{row: row, col: col}, fn)
		}
	}
}

func (ix *Index) visit(k cellKey, fn func(id string, e *entry)) {
	for _, id := range ix.cells[k] {
		fn(id, ix.entries[id])
	}
}

func (ix *Index) cellFor(p domain.GeoPoint) cellKey {
	row := int32(math.Floor((p.Lat + 90) / ix.cellSize))
	col := int32(math.Floor((p.Lon + 180) / ix.cellSize))
	return cellKey{row: clamp(row, ix.rows-1), col: clamp(col, ix.cols-1)}
}

func (ix *Index) attach(id string, e *entry) {
	bucket := ix.cells[e.cell]
	e.slot = len(bucket)
	ix.cells[e.cell] = append(bucket, id)
}

// detach swap-deletes id from its bucket and fixes the moved entry's slot.
func (ix *Index) detach(id string, e *entry) {
	bucket := ix.cells[e.cell]
	last := len(bucket) - 1
	if e.slot != last {
		moved := bucket[last]
		bucket[e.slot] = moved
		ix.entries[moved].slot = e.slot
	}
	bucket = bucket[:last]
	if len(bucket) == 0 {
		delete(ix.cells, e.cell)
		return
	}
	ix.cells[e.cell] = bucket
}

func clamp(v, max int32) int32 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
