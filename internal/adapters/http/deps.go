package http

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/etxea/internal/core/usecases"
)

// Pinger is a backing service the readiness check can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionConfig tunes interactive map sessions opened on /ws/map.
type SessionConfig struct {
	Debounce       time.Duration
	ComputeTimeout time.Duration
	MessageRate    float64 // inbound messages per second
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Listings *usecases.ListingService
	Map      *usecases.MapService
	Catalog  *usecases.CatalogService
	Sessions SessionConfig
	NATS     *nats.Conn
	DB       Pinger
	Cache    Pinger
}
