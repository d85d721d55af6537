package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// FilterPredicate is a conjunctive filter over listing attributes. Absent
// (nil or empty) fields do not constrain.
type FilterPredicate struct {
	PriceMin      *float64       `json:"price_min,omitempty"`
	PriceMax      *float64       `json:"price_max,omitempty"`
	BedroomsMin   *int           `json:"bedrooms_min,omitempty"`
	PropertyTypes []PropertyType `json:"property_types,omitempty"` // empty = all
	Center        *GeoPoint      `json:"center,omitempty"`
	RadiusMeters  *float64       `json:"radius_meters,omitempty"`
	Areas         []string       `json:"areas,omitempty"` // case-insensitive, empty = all
	Offer         *OfferKind     `json:"offer,omitempty"`
	Text          string         `json:"text,omitempty"` // substring of title, address or area
}

// Validate enforces min <= max, non-negative bounds and a complete radius pair.
func (p FilterPredicate) Validate() error {
	if p.PriceMin != nil && (math.IsNaN(*p.PriceMin) || *p.PriceMin < 0) {
		return &InvalidPredicateError{Field: "price_min", Reason: "must be non-negative"}
	}
	if p.PriceMax != nil && (math.IsNaN(*p.PriceMax) || *p.PriceMax < 0) {
		return &InvalidPredicateError{Field: "price_max", Reason: "must be non-negative"}
	}
	if p.PriceMin != nil && p.PriceMax != nil && *p.PriceMin > *p.PriceMax {
		return &InvalidPredicateError{Field: "price_min", Reason: "must not exceed price_max"}
	}
	if p.BedroomsMin != nil && *p.BedroomsMin < 0 {
		return &InvalidPredicateError{Field: "bedrooms_min", Reason: "must be non-negative"}
	}
	if p.Offer != nil && !p.Offer.Valid() {
		return &InvalidPredicateError{Field: "offer", Reason: "must be sale or rent"}
	}
	if (p.Center == nil) != (p.RadiusMeters == nil) {
		return &InvalidPredicateError{Field: "radius_meters", Reason: "requires center and radius together"}
	}
	if p.Center != nil {
		if err := p.Center.Validate(); err != nil {
			return &InvalidPredicateError{Field: "center", Reason: err.Error()}
		}
		if math.IsNaN(*p.RadiusMeters) || *p.RadiusMeters < 0 {
			return &InvalidPredicateError{Field: "radius_meters", Reason: "must be non-negative"}
		}
	}
	return nil
}

// HasRadius reports whether the predicate carries a search circle.
func (p FilterPredicate) HasRadius() bool {
	return p.Center != nil && p.RadiusMeters != nil
}

// Key returns a canonical string form, stable across field order, used for
// cache keys and change detection.
func (p FilterPredicate) Key() string {
	var b strings.Builder
	if p.PriceMin != nil {
		fmt.Fprintf(&b, "pmin=%g;", *p.PriceMin)
	}
	if p.PriceMax != nil {
		fmt.Fprintf(&b, "pmax=%g;", *p.PriceMax)
	}
	if p.BedroomsMin != nil {
		fmt.Fprintf(&b, "bed=%d;", *p.BedroomsMin)
	}
	if len(p.PropertyTypes) > 0 {
		types := make([]string, len(p.PropertyTypes))
		for i, t := range p.PropertyTypes {
			types[i] = string(t)
		}
		slices.Sort(types)
		fmt.Fprintf(&b, "types=%s;", strings.Join(slices.Compact(types), ","))
	}
	if p.HasRadius() {
		fmt.Fprintf(&b, "circle=%.6f,%.6f,%g;", p.Center.Lat, p.Center.Lon, *p.RadiusMeters)
	}
	if len(p.Areas) > 0 {
		areas := make([]string, len(p.Areas))
		for i, a := range p.Areas {
			areas[i] = strings.ToLower(strings.TrimSpace(a))
		}
		slices.Sort(areas)
		fmt.Fprintf(&b, "areas=%s;", strings.Join(slices.Compact(areas), ","))
	}
	if p.Offer != nil {
		fmt.Fprintf(&b, "offer=%s;", *p.Offer)
	}
	if t := strings.ToLower(strings.TrimSpace(p.Text)); t != "" {
		fmt.Fprintf(&b, "text=%s;", t)
	}
	return b.String()
}
