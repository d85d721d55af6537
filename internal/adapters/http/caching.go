package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type cacheRule struct {
	path   string // exact path, or a prefix when it ends in "/"
	header string
}

// cacheRules are checked in order; the first match wins. Map renders change
// with every catalog mutation, so they are only briefly cacheable; the ETag
// lets clients revalidate cheaply afterwards.
var cacheRules = []cacheRule{
	{"/metrics", "no-store"},
	{"/v1/ready", "no-store"},
	{"/v1/health", "public, max-age=10"},
	{"/graphql", "private, max-age=0"},
	{"/ws/", "private, max-age=0"},
	{"/v1/map/", "public, max-age=5"},
	{"/v1/clusters", "public, max-age=5"},
	{"/v1/listings", "public, max-age=30"},
	{"/v1/listings/nearby", "public, max-age=30"},
	{"/v1/listings/", "public, max-age=60"},
	{"/docs", "public, max-age=3600"},
	{"/docs/", "public, max-age=3600"},
	{"/v1/", "public, max-age=60"},
}

func cacheControlFor(path string) string {
	for _, r := range cacheRules {
		if strings.HasSuffix(r.path, "/") {
			if strings.HasPrefix(path, r.path) {
				return r.header
			}
		} else if path == r.path {
			return r.header
		}
	}
	return ""
}

// CachingMiddleware sets Cache-Control on GET responses that did not set
// their own.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if c.Method() != fiber.MethodGet || len(c.Response().Header.Peek(fiber.HeaderCacheControl)) > 0 {
			return err
		}
		if v := cacheControlFor(c.Path()); v != "" {
			c.Set(fiber.HeaderCacheControl, v)
		}
		return err
	}
}
