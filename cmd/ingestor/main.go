package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	natsadapter "github.com/samirrijal/etxea/internal/adapters/nats"
	"github.com/samirrijal/etxea/internal/adapters/postgres"
	"github.com/samirrijal/etxea/internal/core/ports"
	"github.com/samirrijal/etxea/internal/pkg/config"
	"github.com/samirrijal/etxea/internal/pkg/logging"
)

const batchSize = 500

// Usage: ingestor [manifest.json] [feed,feed,...]
//
// With ingest.poll_interval set the ingestor keeps running and re-ingests
// feeds whose content changed since the previous poll.
func main() {
	cfg, err := config.Load("etxea-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	repo := postgres.NewListingRepo(db)

	// Running API instances pick up changes from the catalog stream.
	var pub ports.EventPublisher
	if nc, err := natsadapter.Connect(cfg.NATS.URL, "etxea-ingestor"); err != nil {
		slog.Warn("nats unavailable, API instances will see changes on restart", "error", err)
	} else {
		defer nc.Close()
		if p, err := natsadapter.NewPublisher(nc); err != nil {
			slog.Warn("nats publisher unavailable", "error", err)
		} else {
			pub = p
		}
	}

	manifestPath := "manifest.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		log.Fatalf("parse manifest: %v", err)
	}

	only := map[string]bool{}
	if len(os.Args) > 2 {
		for _, s := range strings.Split(os.Args[2], ",") {
			only[strings.TrimSpace(s)] = true
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ing := &ingester{
		client:      &http.Client{Timeout: 120 * time.Second},
		repo:        repo,
		pub:         pub,
		concurrency: cfg.Ingest.Concurrency,
		seen:        map[string]uint64{},
	}

	var feeds []FeedEntry
	for _, feed := range manifest.Feeds {
		if len(only) == 0 || only[feed.Name] {
			feeds = append(feeds, feed)
		}
	}

	slog.Info("listing ingestion starting", "feeds", len(feeds), "source", manifest.Source)
	ing.runOnce(ctx, feeds)

	interval := cfg.Ingest.Interval()
	if interval == 0 {
		return
	}

	slog.Info("polling feeds", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ing.runOnce(ctx, feeds)
		case <-ctx.Done():
			slog.Info("shutting down ingestor")
			return
		}
	}
}

type ingester struct {
	client      *http.Client
	repo        ports.ListingRepository
	pub         ports.EventPublisher
	concurrency int

	mu   sync.Mutex
	seen map[string]uint64 // feed name -> body hash of the last ingested copy
}

// runOnce ingests every feed concurrently. One broken feed does not stop the others.
func (i *ingester) runOnce(ctx context.Context, feeds []FeedEntry) {
	var total atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for _, feed := range feeds {
		g.Go(func() error {
			n, err := i.ingestFeed(gctx, feed)
			total.Add(int64(n))
			if err != nil {
				slog.Error("feed failed", "feed", feed.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("ingestion complete", "listings", total.Load())
}

func (i *ingester) ingestFeed(ctx context.Context, feed FeedEntry) (int, error) {
	logger := slog.With("feed", feed.Name)
	logger.Info("fetching feed", "url", feed.URL)

	body, err := open(ctx, i.client, feed.URL)
	if err != nil {
		return 0, err
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	sum := xxhash.Sum64(data)
	if !i.changed(feed.Name, sum) {
		logger.Debug("feed unchanged")
		return 0, nil
	}

	listings, err := parseFeed(feed, bytes.NewReader(data), time.Now().UTC())
	if err != nil {
		logger.Warn("skipped rows", "error", err)
	}

	for start := 0; start < len(listings); start += batchSize {
		end := min(start+batchSize, len(listings))
		if err := i.repo.UpsertBatch(ctx, listings[start:end]); err != nil {
			return start, fmt.Errorf("upsert: %w", err)
		}
	}
	i.remember(feed.Name, sum)

	if i.pub != nil {
		for n := range listings {
			if err := i.pub.PublishListingUpdated(ctx, &listings[n]); err != nil {
				logger.Warn("publish failed, remaining listings not announced", "error", err)
				break
			}
		}
	}

	logger.Info("feed ingested", "listings", len(listings))
	return len(listings), nil
}

func (i *ingester) changed(name string, sum uint64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	prev, ok := i.seen[name]
	return !ok || prev != sum
}

func (i *ingester) remember(name string, sum uint64) {
	i.mu.Lock()
	i.seen[name] = sum
	i.mu.Unlock()
}

// open returns the feed body from an http(s) URL or a local path.
func open(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return os.Open(strings.TrimPrefix(url, "file://"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}
	return resp.Body, nil
}
