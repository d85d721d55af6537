package usecases_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/samirrijal/etxea/internal/core/clustering"
	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/core/usecases"
)

func TestMapService_Render(t *testing.T) {
	svc := usecases.NewMapService(seededStore(t), clustering.NewEngine(60, 256), nil)

	set, err := svc.Render(context.Background(), domain.DefaultViewport(), domain.FilterPredicate{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Total != 3 {
		t.Errorf("expected 3 listings, got %d", set.Total)
	}
	n := 0
	for _, m := range set.Markers {
		n += m.Count
	}
	if n != 3 {
		t.Errorf("markers cover %d listings, want 3", n)
	}
}

func TestMapService_Render_FilteredPairAtLowZoom(t *testing.T) {
	svc := usecases.NewMapService(seededStore(t), clustering.NewEngine(60, 256), nil)
	v := domain.DefaultViewport()
	v.Zoom = 3
	maxPrice := 150_000.0

	set, err := svc.Render(context.Background(), v, domain.FilterPredicate{PriceMax: &maxPrice})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Markers) != 1 {
		t.Fatalf("expected 1 marker, got %d", len(set.Markers))
	}
	m := set.Markers[0]
	if !m.IsCluster || m.Count != 2 {
		t.Errorf("expected a cluster of 2, got %+v", m)
	}
}

func TestMapService_Render_CachedPerStoreVersion(t *testing.T) {
	st := seededStore(t)
	cache := newMockCache()
	svc := usecases.NewMapService(st, clustering.NewEngine(60, 256), cache)
	ctx := context.Background()

	if _, err := svc.Render(ctx, domain.DefaultViewport(), domain.FilterPredicate{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.data) != 1 {
		t.Fatalf("expected 1 cache entry, got %d", len(cache.data))
	}
	for k, ttl := range cache.ttls {
		if !strings.HasPrefix(k, "map:render:v3:") {
			t.Errorf("unexpected cache key %q", k)
		}
		if ttl != 30 {
			t.Errorf("expected 30s TTL, got %d", ttl)
		}
	}

	if err := st.OnListingRemoved("B"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	set, err := svc.Render(ctx, domain.DefaultViewport(), domain.FilterPredicate{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Total != 2 {
		t.Errorf("expected a fresh render with 2 listings, got %d", set.Total)
	}
	if len(cache.data) != 2 {
		t.Errorf("expected a second cache entry for the new version, got %d", len(cache.data))
	}
}

func TestMapService_Render_InvalidInput(t *testing.T) {
	svc := usecases.NewMapService(seededStore(t), clustering.NewEngine(60, 256), nil)

	_, err := svc.Render(context.Background(), domain.Viewport{Zoom: 99}, domain.FilterPredicate{})
	if !errors.Is(err, domain.ErrInvalidViewport) {
		t.Errorf("expected ErrInvalidViewport, got %v", err)
	}

	neg := -1
	_, err = svc.Render(context.Background(), domain.DefaultViewport(), domain.FilterPredicate{BedroomsMin: &neg})
	var perr *domain.InvalidPredicateError
	if !errors.As(err, &perr) || perr.Field != "bedrooms_min" {
		t.Errorf("expected bedrooms_min predicate error, got %v", err)
	}
}

func TestMapService_Render_Concurrent(t *testing.T) {
	svc := usecases.NewMapService(seededStore(t), clustering.NewEngine(60, 256), nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := svc.Render(context.Background(), domain.DefaultViewport(), domain.FilterPredicate{})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if set.Total != 3 {
				t.Errorf("expected 3 listings, got %d", set.Total)
			}
		}()
	}
	wg.Wait()
}

func TestMapService_Summaries(t *testing.T) {
	svc := usecases.NewMapService(seededStore(t), clustering.NewEngine(60, 256), nil)
	v := domain.DefaultViewport()
	v.Zoom = 3

	got, err := svc.Summaries(context.Background(), v, domain.FilterPredicate{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(got))
	}
	if got[0].ByType[domain.PropertyApartment] != 3 {
		t.Errorf("expected 3 apartments, got %v", got[0].ByType)
	}
}
