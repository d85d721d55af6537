package ports

import (
	"context"

	"github.com/samirrijal/etxea/internal/core/domain"
)

// ListingRepository persists the listing catalog.
type ListingRepository interface {
	Upsert(ctx context.Context, listing *domain.Listing) error
	UpsertBatch(ctx context.Context, listings []domain.Listing) error
	GetByID(ctx context.Context, id string) (*domain.Listing, error)
	ListAll(ctx context.Context) ([]domain.Listing, error)
	Delete(ctx context.Context, id string) error
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Listing, error)
}
