package usecases

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/core/filter"
	"github.com/samirrijal/etxea/internal/core/ports"
	"github.com/samirrijal/etxea/internal/core/store"
	"github.com/samirrijal/etxea/internal/pkg/geospatial"
)

// ListingService answers listing lookups from the in-memory store, falling
// back to the catalog database while the store is still cold.
type ListingService struct {
	store *store.Store
	repo  ports.ListingRepository
	cache ports.CacheService
}

// NewListingService creates a new ListingService. repo and cache may be nil.
func NewListingService(st *store.Store, repo ports.ListingRepository, cache ports.CacheService) *ListingService {
	return &ListingService{store: st, repo: repo, cache: cache}
}

// GetByID returns a single listing.
func (s *ListingService) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	if l, ok := s.store.Get(id); ok {
		return &l, nil
	}
	if s.repo == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	cacheKey := "listings:id:" + id
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var l domain.Listing
			if err := json.Unmarshal(data, &l); err == nil {
				return &l, nil
			}
		}
	}

	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(l); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 600)
		}
	}
	return l, nil
}

// FindNearby returns listings within radiusMeters of the point, nearest first.
func (s *ListingService) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Listing, error) {
	center := domain.GeoPoint{Lat: lat, Lon: lon}
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if radiusMeters <= 0 {
		return nil, &domain.InvalidPredicateError{Field: "radius_meters", Reason: "must be positive"}
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	if s.store.Len() == 0 && s.repo != nil {
		return s.findNearbyCold(ctx, lat, lon, radiusMeters, limit)
	}

	type hit struct {
		listing *domain.Listing
		dist    float64
	}
	var hits []hit
	err := s.store.View(func(snap store.Snapshot) error {
		for _, id := range snap.QueryRadius(center, radiusMeters) {
			l, ok := snap.Get(id)
			if !ok {
				continue
			}
			hits = append(hits, hit{listing: l, dist: geospatial.Haversine(lat, lon, l.Location.Lat, l.Location.Lon)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(hits, func(a, b hit) int {
		return cmp.Or(cmp.Compare(a.dist, b.dist), cmp.Compare(a.listing.ID, b.listing.ID))
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]domain.Listing, len(hits))
	for i, h := range hits {
		out[i] = *h.listing
	}
	return out, nil
}

func (s *ListingService) findNearbyCold(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Listing, error) {
	cacheKey := fmt.Sprintf("listings:nearby:%.4f:%.4f:%.0f:%d", lat, lon, radiusMeters, limit)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var listings []domain.Listing
			if err := json.Unmarshal(data, &listings); err == nil {
				return listings, nil
			}
		}
	}

	listings, err := s.repo.FindNearby(ctx, lat, lon, radiusMeters, limit)
	if err != nil {
		return nil, err
	}

	// Short TTL: the store takes over once warm.
	if s.cache != nil {
		if data, err := json.Marshal(listings); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 60)
		}
	}
	return listings, nil
}

// Search returns one page of the listings matching p, ordered by id, and the
// total number of matches.
func (s *ListingService) Search(ctx context.Context, p domain.FilterPredicate, limit, offset int) ([]domain.Listing, int, error) {
	if err := p.Validate(); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset = max(offset, 0)

	var matched []domain.Listing
	for _, l := range s.store.All() {
		if filter.Apply(p, &l) {
			matched = append(matched, l)
		}
	}
	total := len(matched)
	if offset >= total {
		return []domain.Listing{}, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}
