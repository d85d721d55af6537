// Package store holds the canonical listing set and the spatial index over
// it. It is the single synchronization point for listing state: catalog
// mutations take the write lock, queries run against a read-locked Snapshot.
package store

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/core/spatial"
)

// ChangeKind identifies a catalog mutation.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Updated
	Removed
	// Reset is emitted after a bulk Load.
	Reset
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// Change describes one applied mutation. Old is nil for Added, New is nil
// for Removed, both are nil for Reset.
type Change struct {
	Kind    ChangeKind
	ID      string
	Ordinal uint32
	Old     *domain.Listing
	New     *domain.Listing
	Version uint64
}

// Observer is called after a mutation has been applied and the store lock
// released. Observers run on the mutating goroutine and must not block.
type Observer func(Change)

type record struct {
	listing *domain.Listing // never mutated once stored
	ord     uint32
}

// Store is the listing store. Listings are stored by value and replaced
// wholesale on update, so pointers handed out by a Snapshot stay valid.
type Store struct {
	mu       sync.RWMutex
	index    *spatial.Index
	records  map[string]record
	byOrd    map[uint32]string
	nextOrd  uint32
	version  uint64
	obsMu    sync.Mutex
	obsSeq   int
	watchers map[int]Observer
}

// New creates an empty store whose index uses cells of cellSizeDeg degrees.
func New(cellSizeDeg float64) *Store {
	return &Store{
		index:    spatial.NewIndex(cellSizeDeg),
		records:  make(map[string]record),
		byOrd:    make(map[uint32]string),
		watchers: make(map[int]Observer),
	}
}

// OnListingAdded inserts a new listing. The listing is validated before the
// index is touched.
func (s *Store) OnListingAdded(l domain.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	ch, err := s.insertLocked(&l)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ch)
	return nil
}

// OnListingUpdated replaces the listing with the same id.
func (s *Store) OnListingUpdated(l domain.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	ch, err := s.replaceLocked(&l)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ch)
	return nil
}

// OnListingRemoved deletes the listing. Removing an absent id fails with
// ErrNotFound.
func (s *Store) OnListingRemoved(id string) error {
	s.mu.Lock()
	ch, err := s.removeLocked(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ch)
	return nil
}

// Upsert adds the listing or replaces an existing one and reports which
// happened.
func (s *Store) Upsert(l domain.Listing) (ChangeKind, error) {
	if err := l.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	var (
		ch  Change
		err error
	)
	if _, ok := s.records[l.ID]; ok {
		ch, err = s.replaceLocked(&l)
	} else {
		ch, err = s.insertLocked(&l)
	}
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	s.notify(ch)
	return ch.Kind, nil
}

// Load upserts a batch under one lock and emits a single Reset change.
// Invalid listings are skipped; their errors are joined in the result.
func (s *Store) Load(listings []domain.Listing) (int, error) {
	return s.load(listings, false)
}

// Replace makes the store hold exactly the valid listings of the batch:
// listings absent from it are removed under the same lock. It is used when
// the batch is the authoritative catalog.
func (s *Store) Replace(listings []domain.Listing) (int, error) {
	return s.load(listings, true)
}

func (s *Store) load(listings []domain.Listing, prune bool) (int, error) {
	var errs []error
	loaded, removed := 0, 0
	keep := make(map[string]struct{}, len(listings))

	s.mu.Lock()
	for i := range listings {
		l := listings[i]
		if err := l.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("listing %q: %w", l.ID, err))
			continue
		}
		var err error
		if _, ok := s.records[l.ID]; ok {
			_, err = s.replaceLocked(&l)
		} else {
			_, err = s.insertLocked(&l)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("listing %q: %w", l.ID, err))
			continue
		}
		keep[l.ID] = struct{}{}
		loaded++
	}
	if prune {
		for id := range s.records {
			if _, ok := keep[id]; ok {
				continue
			}
			if _, err := s.removeLocked(id); err != nil {
				errs = append(errs, fmt.Errorf("listing %q: %w", id, err))
				continue
			}
			removed++
		}
	}
	ch := Change{Kind: Reset, Version: s.version}
	s.mu.Unlock()

	if loaded > 0 || removed > 0 {
		s.notify(ch)
	}
	return loaded, errors.Join(errs...)
}

// Get returns a copy of the listing.
func (s *Store) Get(id string) (domain.Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.Listing{}, false
	}
	return *rec.listing, true
}

// Len returns the number of listings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Version increments on every applied mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// All returns copies of every listing ordered by id.
func (s *Store) All() []domain.Listing {
	s.mu.RLock()
	out := make([]domain.Listing, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec.listing)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Listing) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// View runs fn against a consistent snapshot: no mutation is applied while
// fn runs. The Snapshot must not be retained after fn returns.
func (s *Store) View(fn func(Snapshot) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(Snapshot{s: s})
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(o Observer) (cancel func()) {
	s.obsMu.Lock()
	s.obsSeq++
	id := s.obsSeq
	s.watchers[id] = o
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.watchers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) insertLocked(l *domain.Listing) (Change, error) {
	if err := s.index.Insert(l.ID, l.Location); err != nil {
		return Change{}, err
	}
	ord := s.nextOrd
	s.nextOrd++
	s.records[l.ID] = record{listing: l, ord: ord}
	s.byOrd[ord] = l.ID
	s.version++
	return Change{Kind: Added, ID: l.ID, Ordinal: ord, New: l, Version: s.version}, nil
}

func (s *Store) replaceLocked(l *domain.Listing) (Change, error) {
	old, ok := s.records[l.ID]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", domain.ErrNotFound, l.ID)
	}
	if old.listing.Location != l.Location {
		if err := s.index.Update(l.ID, l.Location); err != nil {
			return Change{}, err
		}
	}
	s.records[l.ID] = record{listing: l, ord: old.ord}
	s.version++
	return Change{Kind: Updated, ID: l.ID, Ordinal: old.ord, Old: old.listing, New: l, Version: s.version}, nil
}

func (s *Store) removeLocked(id string) (Change, error) {
	rec, ok := s.records[id]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err := s.index.Remove(id); err != nil {
		return Change{}, err
	}
	delete(s.records, id)
	delete(s.byOrd, rec.ord)
	s.version++
	return Change{Kind: Removed, ID: id, Ordinal: rec.ord, Old: rec.listing, Version: s.version}, nil
}

func (s *Store) notify(ch Change) {
	s.obsMu.Lock()
	ids := make([]int, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	obs := make([]Observer, len(ids))
	for i, id := range ids {
		obs[i] = s.watchers[id]
	}
	s.obsMu.Unlock()

	for _, o := range obs {
		o(ch)
	}
}

// Snapshot is a read-only view of the store valid for the duration of a
// View callback.
type Snapshot struct {
	s *Store
}

// Get returns the stored listing. The pointee must not be modified.
func (v Snapshot) Get(id string) (*domain.Listing, bool) {
	rec, ok := v.s.records[id]
	if !ok {
		return nil, false
	}
	return rec.listing, true
}

// Ordinal returns the listing's stable ordinal, assigned on insert and never
// reused.
func (v Snapshot) Ordinal(id string) (uint32, bool) {
	rec, ok := v.s.records[id]
	return rec.ord, ok
}

// IDForOrdinal resolves an ordinal back to its listing id.
func (v Snapshot) IDForOrdinal(ord uint32) (string, bool) {
	id, ok := v.s.byOrd[ord]
	return id, ok
}

// Each calls fn for every listing until fn returns false.
func (v Snapshot) Each(fn func(ord uint32, l *domain.Listing) bool) {
	for _, rec := range v.s.records {
		if !fn(rec.ord, rec.listing) {
			return
		}
	}
}

// QueryBoundingBox returns the ids inside b, edges included.
func (v Snapshot) QueryBoundingBox(b domain.Bounds) []string {
	return v.s.index.QueryBoundingBox(b)
}

// QueryRadius returns the ids within radiusMeters of center.
func (v Snapshot) QueryRadius(center domain.GeoPoint, radiusMeters float64) []string {
	return v.s.index.QueryRadius(center, radiusMeters)
}

// Len returns the number of listings.
func (v Snapshot) Len() int { return len(v.s.records) }

// Version returns the store version the snapshot reflects.
func (v Snapshot) Version() uint64 { return v.s.version }
