package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/etxea/internal/pkg/metrics"
)

// RouterConfig tunes the shared middleware stack.
type RouterConfig struct {
	RateLimit      int           // requests per minute per IP; zero disables limiting
	RequestTimeout time.Duration // per-request deadline on /v1 endpoints
}

// DefaultRouterConfig matches the server defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{RateLimit: 600, RequestTimeout: 15 * time.Second}
}

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies, cfg RouterConfig) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())

	app.Use(TracingMiddleware())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	if cfg.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit,
			Expiration: 1 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
			},
		}))
	}

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching, scoped to the catalog version
	var version func() uint64
	if deps.Map != nil {
		version = deps.Map.Store().Version
	}
	app.Use(ETagMiddleware(version))

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	withTimeout := func(h fiber.Handler) fiber.Handler {
		return timeout.NewWithContext(h, cfg.RequestTimeout)
	}

	v1 := app.Group("/v1")
	v1.Get("/listings", withTimeout(SearchListingsHandler(deps)))
	v1.Get("/listings/nearby", withTimeout(NearbyListingsHandler(deps)))
	v1.Get("/listings/:id", withTimeout(GetListingHandler(deps)))
	v1.Post("/listings", withTimeout(CreateListingHandler(deps)))
	v1.Put("/listings/:id", withTimeout(UpdateListingHandler(deps)))
	v1.Delete("/listings/:id", withTimeout(DeleteListingHandler(deps)))

	v1.Get("/map/render", withTimeout(RenderMapHandler(deps)))
	v1.Get("/map/summary", withTimeout(MapSummaryHandler(deps)))

	// /v1/clusters predates the map endpoints and keeps their semantics.
	v1.Get("/clusters", DeprecationMiddleware([]DeprecatedRoute{{
		Path:        "/v1/clusters",
		SunsetDate:  time.Date(2027, time.June, 30, 0, 0, 0, 0, time.UTC),
		Alternative: "/v1/map/render",
	}}), withTimeout(RenderMapHandler(deps)))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/map", websocket.New(WebSocketHandler(deps)))
}
