package http

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// quietPaths are polled by health checkers and scrapers; they are logged at debug.
var quietPaths = map[string]bool{
	"/metrics":   true,
	"/v1/health": true,
	"/v1/ready":  true,
}

// AccessLogMiddleware writes one structured line per request through the
// request-scoped logger. Map requests also carry the requested zoom and bbox
// so slow renders can be traced back to a viewport.
func AccessLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		path := c.Path()
		method := c.Method()

		err := c.Next()

		status := c.Response().StatusCode()
		attrs := []slog.Attr{
			slog.String("method", method),
			slog.String("path", path),
			slog.String("route", c.Route().Path),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.Int("bytes_out", len(c.Response().Body())),
		}
		if strings.HasPrefix(path, "/v1/map/") || path == "/v1/clusters" {
			if z := c.Query("zoom"); z != "" {
				attrs = append(attrs, slog.String("zoom", z))
			}
			if b := c.Query("bbox"); b != "" {
				attrs = append(attrs, slog.String("bbox", b))
			}
		}

		var level slog.Level
		switch {
		case err != nil:
			attrs = append(attrs, slog.String("error", err.Error()))
			level = slog.LevelError
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		case quietPaths[path]:
			level = slog.LevelDebug
		default:
			level = slog.LevelInfo
		}

		LoggerFromCtx(c.UserContext()).LogAttrs(c.UserContext(), level, method+" "+path, attrs...)
		return err
	}
}
