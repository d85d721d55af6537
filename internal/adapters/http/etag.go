package http

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gofiber/fiber/v2"
)

// ETagMiddleware tags successful GET responses with a weak ETag. The tag
// carries the store version when version is non-nil, so clients can tell a
// catalog change from a different rendering of the same catalog.
func ETagMiddleware(version func() uint64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := c.Next(); err != nil {
			return err
		}
		if c.Method() != fiber.MethodGet || c.Response().StatusCode() != fiber.StatusOK {
			return nil
		}
		body := c.Response().Body()
		if len(body) == 0 {
			return nil
		}

		var b strings.Builder
		b.WriteString(`W/"`)
		if version != nil {
			b.WriteString("v")
			b.WriteString(strconv.FormatUint(version(), 10))
			b.WriteString("-")
		}
		b.WriteString(strconv.FormatUint(xxhash.Sum64(body), 16))
		b.WriteString(`"`)
		etag := b.String()
		c.Set(fiber.HeaderETag, etag)

		if etagMatches(c.Get(fiber.HeaderIfNoneMatch), etag) {
			c.Status(fiber.StatusNotModified)
			c.Response().ResetBody()
		}
		return nil
	}
}

// etagMatches applies the weak comparison of If-None-Match, which may list
// several tags or "*".
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, t := range strings.Split(header, ",") {
		t = strings.TrimSpace(t)
		if t == "*" || strings.TrimPrefix(t, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
