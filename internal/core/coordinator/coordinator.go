// Package coordinator drives filter, index and clustering for one map view.
//
// Every viewport change, predicate change or relevant catalog mutation is a
// trigger. Triggers are debounced: only the latest one inside the window runs.
// A trigger that arrives while a computation is in flight cancels it, and the
// cancelled result is never delivered.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/samirrijal/etxea/internal/core/clustering"
	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/core/filter"
	"github.com/samirrijal/etxea/internal/core/ports"
	"github.com/samirrijal/etxea/internal/core/store"
)

// DefaultDebounce is the trigger coalescing window.
const DefaultDebounce = 50 * time.Millisecond

// State of the current view.
type State int

const (
	Idle State = iota
	Computing
)

func (s State) String() string {
	if s == Computing {
		return "computing"
	}
	return "idle"
}

// Outcome of a started computation, reported to Options.Observe.
type Outcome string

const (
	Delivered  Outcome = "delivered"
	Superseded Outcome = "superseded"
	Failed     Outcome = "failed"
)

// Source is the listing store as seen by the coordinator.
type Source interface {
	View(fn func(store.Snapshot) error) error
	Subscribe(o store.Observer) (cancel func())
}

// Options configure a Coordinator.
type Options struct {
	Debounce       time.Duration
	ComputeTimeout time.Duration // zero disables the deadline
	Viewport       domain.Viewport
	Logger         *slog.Logger
	// Observe, when set, is called once per started computation.
	Observe func(outcome Outcome, took time.Duration)
}

// Coordinator owns one logical "current view".
type Coordinator struct {
	src      Source
	filters  filter.Engine
	clusters clustering.Engine
	sink     ports.RenderSink
	opts     Options
	log      *slog.Logger
	unsub    func()

	mu        sync.Mutex
	viewport  domain.Viewport
	predicate domain.FilterPredicate
	predKey   string
	gen       uint64 // bumped on every trigger
	started   uint64 // generation of the newest started computation
	state     State
	timer     *time.Timer
	cancel    context.CancelFunc
	current   domain.RenderSet
	closed    bool
	wg        sync.WaitGroup

	// match holds the ordinals passing the predicate, radius excluded, as of
	// store version matchVersion. nil means it must be rebuilt.
	match        *roaring.Bitmap
	matchVersion uint64

	deliverMu sync.Mutex
	delivered uint64
}

// New creates a coordinator and subscribes it to store mutations. Nothing is
// computed until the first trigger.
func New(src Source, clusters clustering.Engine, sink ports.RenderSink, opts Options) *Coordinator {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Viewport == (domain.Viewport{}) {
		opts.Viewport = domain.DefaultViewport()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		src:      src,
		clusters: clusters,
		sink:     sink,
		opts:     opts,
		log:      log,
		viewport: opts.Viewport,
	}
	c.unsub = src.Subscribe(c.onChange)
	return c
}

// SetViewport replaces the viewport and triggers a recomputation.
func (c *Coordinator) SetViewport(v domain.Viewport) error {
	if err := v.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = v
	c.triggerLocked()
	return nil
}

// SetPredicate replaces the filter predicate and triggers a recomputation.
// An invalid predicate is rejected without touching the current view.
func (c *Coordinator) SetPredicate(p domain.FilterPredicate) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if key := p.Key(); key != c.predKey {
		c.predKey = key
		c.match = nil
	}
	c.predicate = p
	c.triggerLocked()
	return nil
}

// Refresh triggers a recomputation with the current inputs.
func (c *Coordinator) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggerLocked()
}

// State reports whether a computation is in flight.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the last delivered render set. After a failure it is the
// previous set flagged Stale.
func (c *Coordinator) Current() domain.RenderSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Viewport returns the current viewport.
func (c *Coordinator) Viewport() domain.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}

// Close stops pending triggers, cancels in-flight work and waits for it to
// return. It must not be called from a RenderSink callback.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.unsub()
	c.wg.Wait()
}

func (c *Coordinator) triggerLocked() {
	if c.closed {
		return
	}
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(c.opts.Debounce, c.fire)
		return
	}
	c.timer.Reset(c.opts.Debounce)
}

// onChange patches the match set and re-triggers when the mutation touches
// the visible region.
func (c *Coordinator) onChange(ch store.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patchLocked(ch)

	b := c.viewport.Bounds
	touches := ch.Kind == store.Reset ||
		(ch.Old != nil && b.Contains(ch.Old.Location)) ||
		(ch.New != nil && b.Contains(ch.New.Location))
	if touches {
		c.triggerLocked()
	}
}

func (c *Coordinator) patchLocked(ch store.Change) {
	if c.match == nil {
		return
	}
	if ch.Kind == store.Reset || ch.Version != c.matchVersion+1 {
		c.match = nil
		return
	}
	switch ch.Kind {
	case store.Added, store.Updated:
		if c.filters.Matches(c.predicate, ch.New, filter.Options{SkipRadius: true}) {
			c.match.Add(ch.Ordinal)
		} else {
			c.match.Remove(ch.Ordinal)
		}
	case store.Removed:
		c.match.Remove(ch.Ordinal)
	}
	c.matchVersion = ch.Version
}

func (c *Coordinator) fire() {
	c.mu.Lock()
	if c.closed || c.gen == c.started {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	c.started = gen
	c.state = Computing

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.opts.ComputeTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.opts.ComputeTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	c.cancel = cancel

	in := input{viewport: c.viewport, predicate: c.predicate, predKey: c.predKey}
	if c.match != nil {
		in.match = c.match.Clone()
		in.matchVersion = c.matchVersion
	}
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	c.run(ctx, cancel, gen, in)
}

type input struct {
	viewport     domain.Viewport
	predicate    domain.FilterPredicate
	predKey      string
	match        *roaring.Bitmap
	matchVersion uint64
}

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, gen uint64, in input) {
	start := time.Now()
	set, err := c.compute(ctx, in)
	cancel()
	took := time.Since(start)

	c.mu.Lock()
	if c.started == gen {
		c.state = Idle
		c.cancel = nil
	}
	superseded := c.closed || gen != c.gen || errors.Is(err, context.Canceled)
	if superseded {
		c.mu.Unlock()
		c.observe(Superseded, took)
		c.log.Debug("computation superseded", "generation", gen)
		return
	}
	c.mu.Unlock()

	if err != nil {
		var prev domain.RenderSet
		commit := func() {
			prev = c.current
			prev.Stale = true
			prev.Err = err.Error()
			c.current = prev
		}
		if !c.deliver(gen, commit, func() { c.sink.Stale(prev, err) }) {
			c.observe(Superseded, took)
			return
		}
		c.observe(Failed, took)
		c.log.Warn("computation failed, keeping previous render set", "generation", gen, "error", err)
		return
	}

	set.Generation = gen
	set.ComputedAt = time.Now()
	if !c.deliver(gen, func() { c.current = set }, func() { c.sink.Render(set) }) {
		c.observe(Superseded, took)
		c.log.Debug("computation superseded before delivery", "generation", gen)
		return
	}
	c.observe(Delivered, took)
	c.log.Debug("render set delivered",
		"generation", gen,
		"markers", len(set.Markers),
		"listings", set.Total,
		"took", took,
	)
}

// deliver serializes sink callbacks. Under c.mu it re-checks that gen is
// still the latest trigger, then runs commit; a generation superseded after
// its computation finished is dropped here. fn runs without c.mu held.
func (c *Coordinator) deliver(gen uint64, commit, fn func()) bool {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.closed || gen != c.gen || gen <= c.delivered {
		c.mu.Unlock()
		return false
	}
	commit()
	c.mu.Unlock()

	c.delivered = gen
	fn()
	return true
}

func (c *Coordinator) observe(o Outcome, took time.Duration) {
	if c.opts.Observe != nil {
		c.opts.Observe(o, took)
	}
}

func (c *Coordinator) compute(ctx context.Context, in input) (domain.RenderSet, error) {
	var (
		set        domain.RenderSet
		rebuilt    *roaring.Bitmap
		rebuiltVer uint64
	)
	err := c.src.View(func(snap store.Snapshot) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		candidates := candidatesFor(snap, in)

		match := in.match
		if match == nil || in.matchVersion != snap.Version() {
			rebuilt = c.filters.Matching(in.predicate, snap, filter.Options{SkipRadius: true})
			rebuiltVer = snap.Version()
			match = rebuilt
		}
		active := candidates[:0]
		for _, id := range candidates {
			if ord, ok := snap.Ordinal(id); ok && match.Contains(ord) {
				active = append(active, id)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		clusters, err := c.clusters.Cluster(active, in.viewport, snap)
		if err != nil {
			return err
		}
		set = domain.RenderSet{
			Viewport: in.viewport,
			Markers:  clustering.ToMarkers(clusters),
			Total:    len(active),
		}
		return ctx.Err()
	})
	if err != nil {
		return domain.RenderSet{}, err
	}

	if rebuilt != nil {
		c.mu.Lock()
		if c.predKey == in.predKey && (c.match == nil || c.matchVersion < rebuiltVer) {
			c.match = rebuilt
			c.matchVersion = rebuiltVer
		}
		c.mu.Unlock()
	}
	return set, nil
}

// candidatesFor resolves the spatial part of a query: the viewport, narrowed
// by the search circle through the index when the predicate carries one.
func candidatesFor(snap store.Snapshot, in input) []string {
	p := in.predicate
	if !p.HasRadius() {
		return snap.QueryBoundingBox(in.viewport.Bounds)
	}
	ids := snap.QueryRadius(*p.Center, *p.RadiusMeters)
	out := ids[:0]
	for _, id := range ids {
		if l, ok := snap.Get(id); ok && in.viewport.Bounds.Contains(l.Location) {
			out = append(out, id)
		}
	}
	return out
}
