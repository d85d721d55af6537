package coordinator

import (
	"context"
	"time"

	"github.com/samirrijal/etxea/internal/core/clustering"
	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/core/filter"
	"github.com/samirrijal/etxea/internal/core/store"
)

// Viewer runs read-only work against a consistent store snapshot.
type Viewer interface {
	View(fn func(store.Snapshot) error) error
}

// RenderOnce runs the filter, index and clustering pipeline once for a
// stateless caller. The returned set's Generation is the store version it
// was computed from.
func RenderOnce(ctx context.Context, src Viewer, clusters clustering.Engine, v domain.Viewport, p domain.FilterPredicate) (domain.RenderSet, error) {
	if err := v.Validate(); err != nil {
		return domain.RenderSet{}, err
	}
	if err := p.Validate(); err != nil {
		return domain.RenderSet{}, err
	}

	var set domain.RenderSet
	err := src.View(func(snap store.Snapshot) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		in := input{viewport: v, predicate: p}
		active := filter.Engine{}.ActiveIDs(p, candidatesFor(snap, in), snap, filter.Options{SkipRadius: p.HasRadius()})

		cl, err := clusters.Cluster(active, v, snap)
		if err != nil {
			return err
		}
		set = domain.RenderSet{
			Generation: snap.Version(),
			Viewport:   v,
			Markers:    clustering.ToMarkers(cl),
			Total:      len(active),
			ComputedAt: time.Now(),
		}
		return nil
	})
	if err != nil {
		return domain.RenderSet{}, err
	}
	return set, nil
}

// Summaries resolves the clusters of one viewport and summarizes each.
func Summaries(ctx context.Context, src Viewer, clusters clustering.Engine, v domain.Viewport, p domain.FilterPredicate) ([]domain.ClusterSummary, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var out []domain.ClusterSummary
	err := src.View(func(snap store.Snapshot) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		in := input{viewport: v, predicate: p}
		active := filter.Engine{}.ActiveIDs(p, candidatesFor(snap, in), snap, filter.Options{SkipRadius: p.HasRadius()})
		cl, err := clusters.Cluster(active, v, snap)
		if err != nil {
			return err
		}
		out = make([]domain.ClusterSummary, 0, len(cl))
		for _, c := range cl {
			out = append(out, clustering.Summarize(c, snap))
		}
		return nil
	})
	return out, err
}
