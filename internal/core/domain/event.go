package domain

import (
	"fmt"
	"time"
)

// CatalogEventKind names a catalog mutation.
type CatalogEventKind string

const (
	ListingAdded   CatalogEventKind = "added"
	ListingUpdated CatalogEventKind = "updated"
	ListingRemoved CatalogEventKind = "removed"
)

// CatalogEvent is a listing mutation pushed by the catalog. Listing is set
// for added and updated events, ID always.
type CatalogEvent struct {
	Kind       CatalogEventKind `json:"kind"`
	ID         string           `json:"id"`
	Listing    *Listing         `json:"listing,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Validate checks that the event carries what its kind needs.
func (e *CatalogEvent) Validate() error {
	switch e.Kind {
	case ListingAdded, ListingUpdated:
		if e.Listing == nil {
			return fmt.Errorf("%w: %s event without listing", ErrInvalidListing, e.Kind)
		}
		if e.ID == "" {
			e.ID = e.Listing.ID
		}
		if e.ID != e.Listing.ID {
			return fmt.Errorf("%w: event id %q does not match listing id %q", ErrInvalidListing, e.ID, e.Listing.ID)
		}
	case ListingRemoved:
		if e.ID == "" {
			return fmt.Errorf("%w: removed event without id", ErrInvalidListing)
		}
	default:
		return fmt.Errorf("unknown catalog event kind %q", e.Kind)
	}
	return nil
}
