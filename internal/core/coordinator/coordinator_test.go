package coordinator

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/etxea/internal/core/clustering"
	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/core/store"
)

const (
	debounce = 30 * time.Millisecond
	wait     = 2 * time.Second
)

type staleCall struct {
	previous domain.RenderSet
	err      error
}

type recordingSink struct {
	renders chan domain.RenderSet
	stales  chan staleCall
}

func newSink() *recordingSink {
	return &recordingSink{
		renders: make(chan domain.RenderSet, 32),
		stales:  make(chan staleCall, 32),
	}
}

func (s *recordingSink) Render(set domain.RenderSet) { s.renders <- set }

func (s *recordingSink) Stale(previous domain.RenderSet, err error) {
	s.stales <- staleCall{previous: previous, err: err}
}

func (s *recordingSink) next(t *testing.T) domain.RenderSet {
	t.Helper()
	select {
	case set := <-s.renders:
		return set
	case <-time.After(wait):
		t.Fatal("no render set delivered")
		return domain.RenderSet{}
	}
}

func (s *recordingSink) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case set := <-s.renders:
		t.Fatalf("unexpected render set generation %d", set.Generation)
	case call := <-s.stales:
		t.Fatalf("unexpected stale signal: %v", call.err)
	case <-time.After(d):
	}
}

// gatedSource blocks the first View until released, outside the store lock.
type gatedSource struct {
	*store.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	fail    atomic.Bool
}

func (g *gatedSource) View(fn func(store.Snapshot) error) error {
	if g.fail.Load() {
		return errors.New("catalog unavailable")
	}
	g.once.Do(func() {
		if g.entered != nil {
			close(g.entered)
			<-g.release
		}
	})
	return g.Store.View(fn)
}

func ptrF(v float64) *float64 { return &v }

func listing(id string, lat, lon, price float64, beds int) domain.Listing {
	return domain.Listing{ID: id, Location: domain.GeoPoint{Lat: lat, Lon: lon}, Price: price, Bedrooms: beds}
}

func ids(set domain.RenderSet) []string {
	var out []string
	for _, m := range set.Markers {
		out = append(out, m.ListingIDs...)
	}
	slices.Sort(out)
	return out
}

func newCoordinator(t *testing.T, src Source, sink *recordingSink, opts Options) *Coordinator {
	t.Helper()
	if opts.Debounce == 0 {
		opts.Debounce = debounce
	}
	c := New(src, clustering.NewEngine(60, 256), sink, opts)
	t.Cleanup(c.Close)
	return c
}

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(0.05)
	require.NoError(t, s.OnListingAdded(listing("A", 40.70, -74.00, 100_000, 2)))
	require.NoError(t, s.OnListingAdded(listing("B", 40.75, -73.95, 300_000, 3)))
	require.NoError(t, s.OnListingAdded(listing("C", 40.72, -74.05, 100_000, 4)))
	return s
}

func TestCoordinator_DebounceUsesLastViewport(t *testing.T) {
	s := seededStore(t)
	sink := newSink()
	var computations atomic.Int32
	c := newCoordinator(t, s, sink, Options{
		Observe: func(Outcome, time.Duration) { computations.Add(1) },
	})

	v1 := domain.Viewport{Bounds: domain.Bounds{North: 40.71, South: 40.69, East: -73.99, West: -74.01}, Zoom: 15}
	v2 := domain.Viewport{Bounds: domain.Bounds{North: 40.76, South: 40.74, East: -73.94, West: -73.96}, Zoom: 15}
	v3 := domain.Viewport{Bounds: domain.Bounds{North: 40.73, South: 40.71, East: -74.04, West: -74.06}, Zoom: 15}
	require.NoError(t, c.SetViewport(v1))
	require.NoError(t, c.SetViewport(v2))
	require.NoError(t, c.SetViewport(v3))

	set := sink.next(t)
	assert.Equal(t, v3, set.Viewport)
	assert.Equal(t, []string{"C"}, ids(set))
	sink.quiet(t, 5*debounce)
	assert.Equal(t, int32(1), computations.Load())
	assert.Equal(t, Idle, c.State())
}

func TestCoordinator_FilteredPairClusters(t *testing.T) {
	s := seededStore(t)
	sink := newSink()
	c := newCoordinator(t, s, sink, Options{})

	v := domain.DefaultViewport()
	v.Zoom = 3
	require.NoError(t, c.SetViewport(v))
	require.NoError(t, c.SetPredicate(domain.FilterPredicate{PriceMax: ptrF(150_000)}))

	set := sink.next(t)
	require.Len(t, set.Markers, 1)
	m := set.Markers[0]
	assert.True(t, m.IsCluster)
	assert.Equal(t, 2, m.Count)
	assert.Equal(t, 2, set.Total)
	assert.Equal(t, []string{"A", "C"}, ids(set))
	assert.InDelta(t, 40.71, m.Position.Lat, 1e-9)
	assert.InDelta(t, -74.025, m.Position.Lon, 1e-9)
}

func TestCoordinator_InvalidPredicateRejected(t *testing.T) {
	s := seededStore(t)
	sink := newSink()
	c := newCoordinator(t, s, sink, Options{})

	err := c.SetPredicate(domain.FilterPredicate{PriceMin: ptrF(10), PriceMax: ptrF(5)})
	assert.ErrorIs(t, err, domain.ErrInvalidPredicate)
	var perr *domain.InvalidPredicateError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "price_min", perr.Field)
	sink.quiet(t, 4*debounce)
}

func TestCoordinator_InvalidViewportRejected(t *testing.T) {
	c := newCoordinator(t, seededStore(t), newSink(), Options{})
	err := c.SetViewport(domain.Viewport{Bounds: domain.Bounds{North: 1, South: 2}, Zoom: 5})
	assert.ErrorIs(t, err, domain.ErrInvalidViewport)
	assert.Equal(t, domain.DefaultViewport(), c.Viewport())
}

func TestCoordinator_RemoveMidFlight(t *testing.T) {
	src := &gatedSource{
		Store:   seededStore(t),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	sink := newSink()
	c := newCoordinator(t, src, sink, Options{})
	c.Refresh()

	select {
	case <-src.entered:
	case <-time.After(wait):
		t.Fatal("computation never started")
	}
	assert.Equal(t, Computing, c.State())
	require.NoError(t, src.OnListingRemoved("B"))
	close(src.release)

	set := sink.next(t)
	assert.Equal(t, []string{"A", "C"}, ids(set))
	sink.quiet(t, 4*debounce)
}

func TestCoordinator_StaleOnFailure(t *testing.T) {
	src := &gatedSource{Store: seededStore(t)}
	sink := newSink()
	c := newCoordinator(t, src, sink, Options{})

	c.Refresh()
	good := sink.next(t)
	require.Equal(t, []string{"A", "B", "C"}, ids(good))

	src.fail.Store(true)
	c.Refresh()
	select {
	case call := <-sink.stales:
		assert.EqualError(t, call.err, "catalog unavailable")
		assert.True(t, call.previous.Stale)
		assert.Equal(t, good.Markers, call.previous.Markers)
	case <-time.After(wait):
		t.Fatal("no stale signal")
	}
	cur := c.Current()
	assert.True(t, cur.Stale)
	assert.Equal(t, good.Generation, cur.Generation)

	src.fail.Store(false)
	c.Refresh()
	fresh := sink.next(t)
	assert.False(t, fresh.Stale)
	assert.Greater(t, fresh.Generation, good.Generation)
}

func TestCoordinator_MutationsOutsideViewportIgnored(t *testing.T) {
	s := seededStore(t)
	sink := newSink()
	c := newCoordinator(t, s, sink, Options{})
	c.Refresh()
	sink.next(t)

	require.NoError(t, s.OnListingAdded(listing("bilbao", 43.26, -2.93, 1, 1)))
	sink.quiet(t, 4*debounce)

	require.NoError(t, s.OnListingAdded(listing("D", 40.65, -74.08, 1, 1)))
	set := sink.next(t)
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(set))
}

func TestCoordinator_UpdatePatchesActiveSet(t *testing.T) {
	s := seededStore(t)
	sink := newSink()
	c := newCoordinator(t, s, sink, Options{})
	require.NoError(t, c.SetPredicate(domain.FilterPredicate{PriceMax: ptrF(150_000)}))
	assert.Equal(t, []string{"A", "C"}, ids(sink.next(t)))

	require.NoError(t, s.OnListingUpdated(listing("B", 40.75, -73.95, 120_000, 3)))
	assert.Equal(t, []string{"A", "B", "C"}, ids(sink.next(t)))

	require.NoError(t, s.OnListingUpdated(listing("A", 40.70, -74.00, 900_000, 2)))
	assert.Equal(t, []string{"B", "C"}, ids(sink.next(t)))
}

func TestCoordinator_RadiusPredicate(t *testing.T) {
	s := seededStore(t)
	sink := newSink()
	c := newCoordinator(t, s, sink, Options{})

	center := domain.GeoPoint{Lat: 40.70, Lon: -74.00}
	require.NoError(t, c.SetPredicate(domain.FilterPredicate{Center: &center, RadiusMeters: ptrF(5000)}))
	assert.Equal(t, []string{"A", "C"}, ids(sink.next(t)))
}

func TestCoordinator_CloseStopsDelivery(t *testing.T) {
	sink := newSink()
	c := New(seededStore(t), clustering.NewEngine(60, 256), sink, Options{Debounce: debounce})
	c.Refresh()
	c.Close()
	sink.quiet(t, 4*debounce)
	c.Refresh()
	sink.quiet(t, 4*debounce)
}

// blockingSink holds the first Render until released.
type blockingSink struct {
	*recordingSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSink) Render(set domain.RenderSet) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	b.recordingSink.Render(set)
}

func TestCoordinator_SetSupersededWhileWaitingToDeliverIsDropped(t *testing.T) {
	s := seededStore(t)
	sink := &blockingSink{recordingSink: newSink(), entered: make(chan struct{}), release: make(chan struct{})}
	var delivered atomic.Int32
	c := New(s, clustering.NewEngine(60, 256), sink, Options{
		Debounce: debounce,
		Observe: func(o Outcome, _ time.Duration) {
			if o == Delivered {
				delivered.Add(1)
			}
		},
	})
	t.Cleanup(c.Close)

	v1 := domain.Viewport{Bounds: domain.Bounds{North: 40.71, South: 40.69, East: -73.99, West: -74.01}, Zoom: 15}
	v2 := domain.Viewport{Bounds: domain.Bounds{North: 40.76, South: 40.74, East: -73.94, West: -73.96}, Zoom: 15}
	v3 := domain.Viewport{Bounds: domain.Bounds{North: 40.73, South: 40.71, East: -74.04, West: -74.06}, Zoom: 15}

	require.NoError(t, c.SetViewport(v1))
	select {
	case <-sink.entered:
	case <-time.After(wait):
		t.Fatal("first render never started")
	}

	// v2 computes and queues behind the blocked delivery of v1.
	require.NoError(t, c.SetViewport(v2))
	time.Sleep(5 * debounce)
	// v3 supersedes v2 before v2 reaches the sink.
	require.NoError(t, c.SetViewport(v3))
	close(sink.release)

	assert.Equal(t, v1, sink.next(t).Viewport)
	assert.Equal(t, v3, sink.next(t).Viewport)
	sink.quiet(t, 5*debounce)
	assert.Equal(t, int32(2), delivered.Load())
}
