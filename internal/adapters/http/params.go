package http

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/etxea/internal/core/domain"
)

// queryFloat parses an optional float query parameter. Unlike
// fiber.Ctx.QueryFloat it reports malformed values instead of defaulting.
func queryFloat(c *fiber.Ctx, name string) (*float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	return &v, nil
}

func queryInt(c *fiber.Ctx, name string) (*int, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	return &v, nil
}

func queryList(c *fiber.Ctx, name string) []string {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseViewport reads bbox=west,south,east,north and zoom. Without a bbox
// the default map view is used; a West edge greater than East crosses the
// antimeridian.
func parseViewport(c *fiber.Ctx) (domain.Viewport, error) {
	v := domain.DefaultViewport()
	if raw := c.Query("bbox"); raw != "" {
		parts := strings.Split(raw, ",")
		if len(parts) != 4 {
			return v, fmt.Errorf("%w: bbox must be west,south,east,north", domain.ErrInvalidViewport)
		}
		var edges [4]float64
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return v, fmt.Errorf("%w: bbox must contain numbers", domain.ErrInvalidViewport)
			}
			edges[i] = f
		}
		v.Bounds = domain.Bounds{West: edges[0], South: edges[1], East: edges[2], North: edges[3]}
	}
	zoom, err := queryInt(c, "zoom")
	if err != nil {
		return v, fmt.Errorf("%w: %s", domain.ErrInvalidViewport, err)
	}
	if zoom != nil {
		v.Zoom = *zoom
	}
	return v, v.Validate()
}

// parsePredicate reads the filter query parameters. The returned predicate is
// validated.
func parsePredicate(c *fiber.Ctx) (domain.FilterPredicate, error) {
	var (
		p   domain.FilterPredicate
		err error
	)
	bad := func(field string, err error) error {
		return &domain.InvalidPredicateError{Field: field, Reason: err.Error()}
	}

	if p.PriceMin, err = queryFloat(c, "price_min"); err != nil {
		return p, bad("price_min", err)
	}
	if p.PriceMax, err = queryFloat(c, "price_max"); err != nil {
		return p, bad("price_max", err)
	}
	if p.BedroomsMin, err = queryInt(c, "beds_min"); err != nil {
		return p, bad("bedrooms_min", err)
	}
	for _, label := range queryList(c, "types") {
		t, err := domain.ParsePropertyType(label)
		if err != nil {
			return p, bad("property_types", err)
		}
		p.PropertyTypes = append(p.PropertyTypes, t)
	}

	lat, err := queryFloat(c, "lat")
	if err != nil {
		return p, bad("center", err)
	}
	lon, err := queryFloat(c, "lon")
	if err != nil {
		return p, bad("center", err)
	}
	if (lat == nil) != (lon == nil) {
		return p, &domain.InvalidPredicateError{Field: "center", Reason: "requires lat and lon together"}
	}
	if lat != nil {
		p.Center = &domain.GeoPoint{Lat: *lat, Lon: *lon}
	}
	if p.RadiusMeters, err = queryFloat(c, "radius"); err != nil {
		return p, bad("radius_meters", err)
	}

	p.Areas = queryList(c, "areas")
	if raw := c.Query("offer"); raw != "" {
		o, err := domain.ParseOfferKind(raw)
		if err != nil {
			return p, bad("offer", err)
		}
		p.Offer = &o
	}
	p.Text = c.Query("q")
	if len(p.Text) > 200 {
		return p, &domain.InvalidPredicateError{Field: "text", Reason: "too long (max 200 characters)"}
	}

	return p, p.Validate()
}
