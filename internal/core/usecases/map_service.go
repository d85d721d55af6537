package usecases

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/samirrijal/etxea/internal/core/clustering"
	"github.com/samirrijal/etxea/internal/core/coordinator"
	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/core/ports"
	"github.com/samirrijal/etxea/internal/core/store"
	"github.com/samirrijal/etxea/internal/pkg/telemetry"
)

var tracer = otel.Tracer("github.com/samirrijal/etxea/internal/core/usecases")

// renderTTL bounds how long a cached render set may be served. Keys carry the
// store version, so a catalog mutation already invalidates them.
const renderTTL = 30

// MapService renders clustered markers for stateless clients (REST, GraphQL).
// Interactive sessions use a coordinator instead.
type MapService struct {
	store    *store.Store
	clusters clustering.Engine
	cache    ports.CacheService
	group    singleflight.Group
}

// NewMapService creates a new MapService. cache may be nil.
func NewMapService(st *store.Store, clusters clustering.Engine, cache ports.CacheService) *MapService {
	return &MapService{store: st, clusters: clusters, cache: cache}
}

// Clusters exposes the engine configuration, used to start map sessions.
func (s *MapService) Clusters() clustering.Engine { return s.clusters }

// Store returns the listing store backing the service.
func (s *MapService) Store() *store.Store { return s.store }

// Render returns the markers for viewport v under predicate p.
func (s *MapService) Render(ctx context.Context, v domain.Viewport, p domain.FilterPredicate) (domain.RenderSet, error) {
	if err := v.Validate(); err != nil {
		return domain.RenderSet{}, err
	}
	if err := p.Validate(); err != nil {
		return domain.RenderSet{}, err
	}

	ctx, span := tracer.Start(ctx, "MapService.Render")
	defer span.End()
	span.SetAttributes(attribute.Int(telemetry.AttrZoom, v.Zoom), attribute.String(telemetry.AttrPredicate, p.Key()))

	cacheKey := renderKey(s.store.Version(), v, p)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var set domain.RenderSet
			if err := json.Unmarshal(data, &set); err == nil {
				span.SetAttributes(attribute.Bool(telemetry.AttrCacheHit, true))
				return set, nil
			}
		}
	}

	res, err, shared := s.group.Do(cacheKey, func() (any, error) {
		set, err := coordinator.RenderOnce(ctx, s.store, s.clusters, v, p)
		if err != nil {
			return domain.RenderSet{}, err
		}
		if s.cache != nil {
			if data, err := json.Marshal(set); err == nil {
				_ = s.cache.Set(ctx, cacheKey, data, renderTTL)
			}
		}
		return set, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.RenderSet{}, err
	}
	set := res.(domain.RenderSet)
	span.SetAttributes(
		attribute.Bool(telemetry.AttrShared, shared),
		attribute.Int(telemetry.AttrMarkers, len(set.Markers)),
		attribute.Int(telemetry.AttrListings, set.Total),
	)
	return set, nil
}

// Summaries returns per-cluster aggregates for viewport v under predicate p.
func (s *MapService) Summaries(ctx context.Context, v domain.Viewport, p domain.FilterPredicate) ([]domain.ClusterSummary, error) {
	ctx, span := tracer.Start(ctx, "MapService.Summaries")
	defer span.End()

	out, err := coordinator.Summaries(ctx, s.store, s.clusters, v, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int(telemetry.AttrClusters, len(out)))
	return out, nil
}

func renderKey(version uint64, v domain.Viewport, p domain.FilterPredicate) string {
	b := v.Bounds
	return fmt.Sprintf("map:render:v%d:%.6f:%.6f:%.6f:%.6f:z%d:%s",
		version, b.North, b.South, b.East, b.West, v.Zoom, p.Key())
}
