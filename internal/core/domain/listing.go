package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// PropertyType classifies a listing.
type PropertyType string

const (
	PropertyHouse      PropertyType = "house"
	PropertyApartment  PropertyType = "apartment"
	PropertyLand       PropertyType = "land"
	PropertyCommercial PropertyType = "commercial"
	PropertyOther      PropertyType = "other"
)

// PropertyTypes lists every known property type in display order.
var PropertyTypes = []PropertyType{PropertyHouse, PropertyApartment, PropertyLand, PropertyCommercial, PropertyOther}

// ParsePropertyType accepts any casing and plural chip labels ("Houses", "Apartments").
func ParsePropertyType(s string) (PropertyType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "house", "houses", "villa", "villas":
		return PropertyHouse, nil
	case "apartment", "apartments", "flat", "flats", "studio":
		return PropertyApartment, nil
	case "land", "plot", "plots":
		return PropertyLand, nil
	case "commercial", "plaza", "office", "shop":
		return PropertyCommercial, nil
	case "other", "":
		return PropertyOther, nil
	}
	return "", fmt.Errorf("unknown property type %q", s)
}

// UnmarshalJSON normalizes the incoming label.
func (t *PropertyType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	pt, err := ParsePropertyType(s)
	if err != nil {
		return err
	}
	*t = pt
	return nil
}

// OfferKind says whether a listing is for sale or for rent.
type OfferKind string

const (
	OfferSale OfferKind = "sale"
	OfferRent OfferKind = "rent"
)

// ParseOfferKind accepts "sale", "rent" and the "For Sale" / "For Rent" chip labels.
func ParseOfferKind(s string) (OfferKind, error) {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "for ")
	switch v {
	case "sale", "buy":
		return OfferSale, nil
	case "rent", "rental":
		return OfferRent, nil
	}
	return "", fmt.Errorf("unknown offer kind %q", s)
}

// UnmarshalJSON normalizes chip labels such as "For Rent". An empty string
// leaves the offer unset.
func (k *OfferKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*k = ""
		return nil
	}
	o, err := ParseOfferKind(s)
	if err != nil {
		return err
	}
	*k = o
	return nil
}

// Valid reports whether k is a known offer kind.
func (k OfferKind) Valid() bool {
	return k == OfferSale || k == OfferRent
}

// Listing is a single real-estate record. A listing is immutable by id: an
// edit replaces the whole value.
type Listing struct {
	ID           string       `json:"id"`
	Location     GeoPoint     `json:"location"`
	Price        float64      `json:"price"`
	Bedrooms     int          `json:"bedrooms"`
	Bathrooms    int          `json:"bathrooms,omitempty"`
	PropertyType PropertyType `json:"property_type"`
	Offer        OfferKind    `json:"offer,omitempty"`
	Title        string       `json:"title"`
	Address      string       `json:"address,omitempty"`
	Area         string       `json:"area,omitempty"`
	Description  string       `json:"description,omitempty"`
	ThumbnailRef string       `json:"thumbnail_ref,omitempty"` // opaque handle for the image service
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Validate checks the listing invariants enforced at the store boundary.
func (l *Listing) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidListing)
	}
	if err := l.Location.Validate(); err != nil {
		return err
	}
	if math.IsNaN(l.Price) || l.Price < 0 {
		return fmt.Errorf("%w: price must be non-negative", ErrInvalidListing)
	}
	if l.Bedrooms < 0 || l.Bathrooms < 0 {
		return fmt.Errorf("%w: room counts must be non-negative", ErrInvalidListing)
	}
	if l.Offer != "" && !l.Offer.Valid() {
		return fmt.Errorf("%w: unknown offer kind %q", ErrInvalidListing, l.Offer)
	}
	if l.PropertyType == "" {
		l.PropertyType = PropertyOther
	}
	return nil
}
