package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/core/ports"
	"github.com/samirrijal/etxea/internal/core/store"
)

// CatalogService applies catalog mutations: it persists them, updates the
// in-memory store and publishes the matching event. It also consumes events
// published by other instances.
type CatalogService struct {
	store *store.Store
	repo  ports.ListingRepository
	pub   ports.EventPublisher
	cache ports.CacheService
	locks [lockStripes]sync.Mutex
}

// lockStripes bounds the per-id locks. Check, persist and store update of
// one id run under its stripe, so concurrent writers of the same id are
// serialized and the repository never diverges from the store.
const lockStripes = 64

func (s *CatalogService) lock(id string) func() {
	mu := &s.locks[xxhash.Sum64String(id)%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// NewCatalogService creates a new CatalogService. repo, pub and cache may be nil.
func NewCatalogService(st *store.Store, repo ports.ListingRepository, pub ports.EventPublisher, cache ports.CacheService) *CatalogService {
	return &CatalogService{store: st, repo: repo, pub: pub, cache: cache}
}

// Add creates a listing. It fails with ErrDuplicateID if the id exists.
func (s *CatalogService) Add(ctx context.Context, l domain.Listing) (*domain.Listing, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	defer s.lock(l.ID)()
	if _, ok := s.store.Get(l.ID); ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateID, l.ID)
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now().UTC()
	}
	if s.repo != nil {
		if err := s.repo.Upsert(ctx, &l); err != nil {
			return nil, fmt.Errorf("persist listing %s: %w", l.ID, err)
		}
	}
	if err := s.store.OnListingAdded(l); err != nil {
		return nil, err
	}
	s.invalidate(ctx, l.ID)
	if s.pub != nil {
		if err := s.pub.PublishListingAdded(ctx, &l); err != nil {
			slog.Warn("publish listing added failed", "id", l.ID, "error", err)
		}
	}
	return &l, nil
}

// Update replaces an existing listing. It fails with ErrNotFound if absent.
func (s *CatalogService) Update(ctx context.Context, l domain.Listing) (*domain.Listing, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	defer s.lock(l.ID)()
	if _, ok := s.store.Get(l.ID); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, l.ID)
	}
	l.UpdatedAt = time.Now().UTC()
	if s.repo != nil {
		if err := s.repo.Upsert(ctx, &l); err != nil {
			return nil, fmt.Errorf("persist listing %s: %w", l.ID, err)
		}
	}
	if err := s.store.OnListingUpdated(l); err != nil {
		return nil, err
	}
	s.invalidate(ctx, l.ID)
	if s.pub != nil {
		if err := s.pub.PublishListingUpdated(ctx, &l); err != nil {
			slog.Warn("publish listing updated failed", "id", l.ID, "error", err)
		}
	}
	return &l, nil
}

// Remove deletes a listing. It fails with ErrNotFound if absent.
func (s *CatalogService) Remove(ctx context.Context, id string) error {
	defer s.lock(id)()
	if _, ok := s.store.Get(id); !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if s.repo != nil {
		if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("delete listing %s: %w", id, err)
		}
	}
	if err := s.store.OnListingRemoved(id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	if s.pub != nil {
		if err := s.pub.PublishListingRemoved(ctx, id); err != nil {
			slog.Warn("publish listing removed failed", "id", id, "error", err)
		}
	}
	return nil
}

// Warm makes the store mirror the repository: listings restored from a
// snapshot but since deleted from the repository are dropped. Invalid rows
// are skipped and reported in the returned error.
func (s *CatalogService) Warm(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	listings, err := s.repo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list catalog: %w", err)
	}
	return s.store.Replace(listings)
}

// Apply handles a catalog event received from the broker. Events are applied
// idempotently: re-delivery, or an instance receiving its own event, does not
// produce a second mutation. An added or updated event older than the stored
// listing is dropped, so a late redelivery cannot roll a listing back.
func (s *CatalogService) Apply(ctx context.Context, ev *domain.CatalogEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	defer s.lock(ev.ID)()
	switch ev.Kind {
	case domain.ListingAdded, domain.ListingUpdated:
		l := *ev.Listing
		if cur, ok := s.store.Get(l.ID); ok {
			if sameListing(cur, l) {
				return nil
			}
			if l.UpdatedAt.Before(cur.UpdatedAt) {
				slog.Debug("stale catalog event dropped", "id", l.ID, "event_updated_at", l.UpdatedAt, "stored_updated_at", cur.UpdatedAt)
				return nil
			}
		}
		if _, err := s.store.Upsert(l); err != nil {
			return err
		}
	case domain.ListingRemoved:
		err := s.store.OnListingRemoved(ev.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	s.invalidate(ctx, ev.ID)
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context, id string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "listings:id:"+id)
	}
}

func sameListing(a, b domain.Listing) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	if a.PropertyType == "" {
		a.PropertyType = domain.PropertyOther
	}
	if b.PropertyType == "" {
		b.PropertyType = domain.PropertyOther
	}
	return a == b
}
