package ports

import (
	"context"

	"github.com/samirrijal/etxea/internal/core/domain"
)

// EventPublisher publishes catalog events to a message broker.
type EventPublisher interface {
	PublishListingAdded(ctx context.Context, listing *domain.Listing) error
	PublishListingUpdated(ctx context.Context, listing *domain.Listing) error
	PublishListingRemoved(ctx context.Context, id string) error
}

// EventSubscriber subscribes to catalog events from a message broker.
type EventSubscriber interface {
	SubscribeCatalog(ctx context.Context, handler func(ctx context.Context, event *domain.CatalogEvent) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// RenderSink is the map-rendering collaborator. Render receives each
// delivered render set; Stale is called when a computation failed and the
// previous set is being kept.
type RenderSink interface {
	Render(set domain.RenderSet)
	Stale(previous domain.RenderSet, err error)
}
