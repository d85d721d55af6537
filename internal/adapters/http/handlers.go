package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/etxea/internal/core/domain"
)

// SearchListingsHandler returns the listings matching the filter query
// parameters, ordered by id.
func SearchListingsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := parsePredicate(c)
		if err != nil {
			return errFromDomain(c, err)
		}

		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 20)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		listings, total, err := deps.Listings.Search(c.UserContext(), p, limit, offset)
		if err != nil {
			return errFromDomain(c, err)
		}
		if listings == nil {
			listings = []domain.Listing{}
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: listings, Pagination: pg})
	}
}

// NearbyListingsHandler returns listings within a radius of a point, nearest first.
func NearbyListingsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lat, err := queryFloat(c, "lat")
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		lon, err := queryFloat(c, "lon")
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		if lat == nil || lon == nil {
			return errBadRequest(c, "lat and lon are required")
		}
		radius := c.QueryFloat("radius", 1000)
		if radius <= 0 || radius > 50000 {
			return errBadRequest(c, "radius must be between 1 and 50000 meters")
		}
		limit := c.QueryInt("limit", 20)

		listings, err := deps.Listings.FindNearby(c.UserContext(), *lat, *lon, radius, limit)
		if err != nil {
			return errFromDomain(c, err)
		}
		if listings == nil {
			listings = []domain.Listing{}
		}
		return c.JSON(listings)
	}
}

// GetListingHandler returns a single listing by id.
func GetListingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "listing id is required")
		}
		l, err := deps.Listings.GetByID(c.UserContext(), id)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(l)
	}
}

// CreateListingHandler adds a listing to the catalog.
func CreateListingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var l domain.Listing
		if err := c.BodyParser(&l); err != nil {
			return errBadRequest(c, "invalid request body: "+err.Error())
		}
		created, err := deps.Catalog.Add(c.UserContext(), l)
		if err != nil {
			return errFromDomain(c, err)
		}
		c.Location("/v1/listings/" + created.ID)
		return c.Status(fiber.StatusCreated).JSON(created)
	}
}

// UpdateListingHandler replaces an existing listing. The body id, when
// present, must match the path.
func UpdateListingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		var l domain.Listing
		if err := c.BodyParser(&l); err != nil {
			return errBadRequest(c, "invalid request body: "+err.Error())
		}
		if l.ID == "" {
			l.ID = id
		}
		if l.ID != id {
			return errBadRequest(c, "body id does not match path")
		}
		updated, err := deps.Catalog.Update(c.UserContext(), l)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(updated)
	}
}

// DeleteListingHandler removes a listing from the catalog.
func DeleteListingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Catalog.Remove(c.UserContext(), c.Params("id")); err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// RenderMapHandler clusters the listings visible in a viewport.
// format=geojson returns a FeatureCollection instead of the render set.
func RenderMapHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		v, err := parseViewport(c)
		if err != nil {
			return errFromDomain(c, err)
		}
		p, err := parsePredicate(c)
		if err != nil {
			return errFromDomain(c, err)
		}

		set, err := deps.Map.Render(c.UserContext(), v, p)
		if err != nil {
			return errFromDomain(c, err)
		}

		switch c.Query("format") {
		case "", "json":
			return c.JSON(set)
		case "geojson":
			data, err := renderGeoJSON(set)
			if err != nil {
				return errFromDomain(c, err)
			}
			c.Set(fiber.HeaderContentType, "application/geo+json")
			return c.Send(data)
		default:
			return errBadRequest(c, "format must be json or geojson")
		}
	}
}

// MapSummaryHandler returns price and type aggregates per cluster.
func MapSummaryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		v, err := parseViewport(c)
		if err != nil {
			return errFromDomain(c, err)
		}
		p, err := parsePredicate(c)
		if err != nil {
			return errFromDomain(c, err)
		}
		out, err := deps.Map.Summaries(c.UserContext(), v, p)
		if err != nil {
			return errFromDomain(c, err)
		}
		if out == nil {
			out = []domain.ClusterSummary{}
		}
		return c.JSON(out)
	}
}
