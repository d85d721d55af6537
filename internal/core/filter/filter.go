// Package filter evaluates listing predicates.
package filter

import (
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/pkg/geospatial"
)

// Lookup resolves listings by id.
type Lookup interface {
	Get(id string) (*domain.Listing, bool)
}

// Source enumerates every listing together with its store ordinal.
type Source interface {
	Each(fn func(ord uint32, l *domain.Listing) bool)
}

// Options tune one evaluation.
type Options struct {
	// SkipRadius is set when candidates were already constrained by a spatial
	// radius query, so the circle is not checked a second time.
	SkipRadius bool
}

// Engine filters listings by predicate. The zero value is ready to use.
type Engine struct{}

// Apply reports whether l satisfies every present field of p.
func Apply(p domain.FilterPredicate, l *domain.Listing) bool {
	return compile(p, Options{}).match(l)
}

// Matches is Apply with options.
func (Engine) Matches(p domain.FilterPredicate, l *domain.Listing, opts Options) bool {
	return compile(p, opts).match(l)
}

// ActiveIDs keeps the candidates that satisfy p, preserving candidate order.
// Ids the lookup no longer knows are dropped.
func (Engine) ActiveIDs(p domain.FilterPredicate, candidates []string, lookup Lookup, opts Options) []string {
	m := compile(p, opts)
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		l, ok := lookup.Get(id)
		if !ok || !m.match(l) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Matching evaluates p against every listing of src and returns the
// ordinals that pass.
func (Engine) Matching(p domain.FilterPredicate, src Source, opts Options) *roaring.Bitmap {
	m := compile(p, opts)
	rb := roaring.New()
	src.Each(func(ord uint32, l *domain.Listing) bool {
		if m.match(l) {
			rb.Add(ord)
		}
		return true
	})
	return rb
}

type matcher struct {
	p     domain.FilterPredicate
	types map[domain.PropertyType]struct{}
	areas map[string]struct{}
	text  string
	skipR bool
}

func compile(p domain.FilterPredicate, opts Options) matcher {
	m := matcher{p: p, skipR: opts.SkipRadius, text: strings.ToLower(strings.TrimSpace(p.Text))}
	if len(p.PropertyTypes) > 0 {
		m.types = make(map[domain.PropertyType]struct{}, len(p.PropertyTypes))
		for _, t := range p.PropertyTypes {
			m.types[t] = struct{}{}
		}
	}
	if len(p.Areas) > 0 {
		m.areas = make(map[string]struct{}, len(p.Areas))
		for _, a := range p.Areas {
			m.areas[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
		}
	}
	return m
}

func (m matcher) match(l *domain.Listing) bool {
	p := m.p
	if p.PriceMin != nil && l.Price < *p.PriceMin {
		return false
	}
	if p.PriceMax != nil && l.Price > *p.PriceMax {
		return false
	}
	if p.BedroomsMin != nil && l.Bedrooms < *p.BedroomsMin {
		return false
	}
	if m.types != nil {
		if _, ok := m.types[l.PropertyType]; !ok {
			return false
		}
	}
	if m.areas != nil {
		if _, ok := m.areas[strings.ToLower(strings.TrimSpace(l.Area))]; !ok {
			return false
		}
	}
	if p.Offer != nil && l.Offer != *p.Offer {
		return false
	}
	if m.text != "" && !containsFold(m.text, l.Title, l.Address, l.Area) {
		return false
	}
	if !m.skipR && p.HasRadius() {
		d := geospatial.Haversine(p.Center.Lat, p.Center.Lon, l.Location.Lat, l.Location.Lon)
		if d > *p.RadiusMeters {
			return false
		}
	}
	return true
}

func containsFold(needle string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}
