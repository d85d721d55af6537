package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/etxea/internal/adapters/http"
	natsadapter "github.com/samirrijal/etxea/internal/adapters/nats"
	"github.com/samirrijal/etxea/internal/adapters/postgres"
	"github.com/samirrijal/etxea/internal/adapters/snapshot"
	"github.com/samirrijal/etxea/internal/adapters/valkey"
	"github.com/samirrijal/etxea/internal/core/clustering"
	"github.com/samirrijal/etxea/internal/core/ports"
	"github.com/samirrijal/etxea/internal/core/store"
	"github.com/samirrijal/etxea/internal/core/usecases"
	"github.com/samirrijal/etxea/internal/pkg/config"
	"github.com/samirrijal/etxea/internal/pkg/logging"
	"github.com/samirrijal/etxea/internal/pkg/metrics"
	"github.com/samirrijal/etxea/internal/pkg/telemetry"
)

const service = "etxea-api"

func main() {
	cfg, err := config.Load(service)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	// In-memory catalog
	st := store.New(cfg.Index.CellSizeDeg)
	st.Subscribe(func(ch store.Change) {
		metrics.StoreVersion.Set(float64(ch.Version))
		metrics.ListingsIndexed.Set(float64(st.Len()))
	})

	if path := cfg.Snapshot.Path; path != "" {
		listings, hdr, err := snapshot.Load(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("no snapshot yet", "path", path)
		case err != nil:
			slog.Warn("snapshot unreadable, starting cold", "path", path, "error", err)
		default:
			n, err := st.Load(listings)
			if err != nil {
				slog.Warn("snapshot contained invalid listings", "error", err)
			}
			slog.Info("snapshot restored", "path", path, "listings", n, "saved_version", hdr.StoreVersion)
		}
	}

	// Database
	var repo ports.ListingRepository
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := postgres.New(dbCtx, cfg.Database.DSN(), cfg.Database.MaxConns)
	dbCancel()
	if err != nil {
		slog.Warn("database unavailable, catalog changes will not be persisted", "error", err)
	} else {
		defer db.Close()
		repo = postgres.NewListingRepo(db)
		go db.ReportPoolStats(ctx, 15*time.Second)
	}

	// Cache
	var cache ports.CacheService
	vk, err := valkey.New(cfg.Valkey.Addr, "etxea:")
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer vk.Close()
		cache = vk
	}

	// NATS
	var pub ports.EventPublisher
	nc, err := natsadapter.Connect(cfg.NATS.URL, service)
	if err != nil {
		slog.Warn("nats unavailable, catalog events disabled", "error", err)
	} else {
		defer nc.Close()
		p, err := natsadapter.NewPublisher(nc)
		if err != nil {
			slog.Warn("nats publisher unavailable", "error", err)
		} else {
			pub = p
		}
	}

	// Use cases
	clusters := clustering.NewEngine(cfg.Cluster.PixelRadius, cfg.Cluster.TileSize)
	catalogSvc := usecases.NewCatalogService(st, repo, pub, cache)
	listingSvc := usecases.NewListingService(st, repo, cache)
	mapSvc := usecases.NewMapService(st, clusters, cache)

	warmStart := time.Now()
	n, err := catalogSvc.Warm(ctx)
	if err != nil {
		slog.Warn("catalog warm-up incomplete", "error", err)
	}
	slog.Info("catalog loaded", "listings", n, "indexed", st.Len(), "took", time.Since(warmStart))

	if nc != nil {
		sub, err := natsadapter.NewSubscriber(nc, durableName(cfg.NATS.Durable))
		if err != nil {
			slog.Warn("nats subscriber unavailable", "error", err)
		} else if err := sub.SubscribeCatalog(ctx, catalogSvc.Apply); err != nil {
			slog.Warn("catalog subscription failed", "error", err)
		} else {
			defer sub.Close()
		}
	}

	deps := &http.Dependencies{
		Listings: listingSvc,
		Map:      mapSvc,
		Catalog:  catalogSvc,
		Sessions: http.SessionConfig{
			Debounce:       cfg.Coordinator.Debounce(),
			ComputeTimeout: cfg.Coordinator.ComputeTimeout(),
			MessageRate:    cfg.Server.WSMessageRate,
		},
		NATS: nc,
	}
	if db != nil {
		deps.DB = db
	}
	if vk != nil {
		deps.Cache = vk
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "Etxea API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, If-None-Match",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps, http.RouterConfig{
		RateLimit:      cfg.Server.RateLimit,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
	})

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	if path := cfg.Snapshot.Path; path != "" {
		if err := snapshot.Save(path, st.All(), st.Version()); err != nil {
			slog.Error("snapshot save failed", "path", path, "error", err)
		} else {
			slog.Info("snapshot saved", "path", path, "listings", st.Len())
		}
	}

	slog.Info("server stopped")
}

// durableName returns the configured consumer name or one unique to this host.
func durableName(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	// JetStream consumer names must not contain '.', '*' or '>'.
	return strings.NewReplacer(".", "-", "*", "-", ">", "-").Replace(service + "-" + host)
}
