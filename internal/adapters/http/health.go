package http

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
)

// HealthHandler reports liveness plus the size and version of the in-memory
// catalog.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":  "healthy",
			"uptime":  time.Since(startedAt).String(),
			"version": "dev",
		}
		if deps.Map != nil {
			st := deps.Map.Store()
			body["listings"] = st.Len()
			body["store_version"] = st.Version()
		}
		return c.JSON(body)
	}
}

// ReadyHandler checks the configured backends concurrently. Postgres and
// Valkey are optional: an instance without them serves from memory and is
// still ready. A configured backend that fails makes the instance not ready.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		var (
			mu     sync.Mutex
			checks = map[string]string{}
			allOK  = true
		)
		report := func(name, result string, ok bool) {
			mu.Lock()
			checks[name] = result
			allOK = allOK && ok
			mu.Unlock()
		}

		var g errgroup.Group
		check := func(name string, p Pinger) {
			if p == nil {
				report(name, "not configured", true)
				return
			}
			g.Go(func() error {
				start := time.Now()
				if err := p.Ping(ctx); err != nil {
					report(name, "error: "+err.Error(), false)
					return nil
				}
				report(name, "ok ("+strconv.FormatInt(time.Since(start).Milliseconds(), 10)+"ms)", true)
				return nil
			})
		}
		check("database", deps.DB)
		check("cache", deps.Cache)

		switch {
		case deps.NATS == nil:
			report("nats", "not configured", true)
		case deps.NATS.IsConnected():
			report("nats", "ok", true)
		default:
			report("nats", "disconnected", false)
		}
		_ = g.Wait()

		status, code := "ready", fiber.StatusOK
		if !allOK {
			status, code = "not ready", fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
