package usecases_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/core/store"
	"github.com/samirrijal/etxea/internal/core/usecases"
)

// --- Mock EventPublisher ---

type mockPublisher struct {
	added   []string
	updated []string
	removed []string
	err     error
}

func (m *mockPublisher) PublishListingAdded(ctx context.Context, l *domain.Listing) error {
	m.added = append(m.added, l.ID)
	return m.err
}

func (m *mockPublisher) PublishListingUpdated(ctx context.Context, l *domain.Listing) error {
	m.updated = append(m.updated, l.ID)
	return m.err
}

func (m *mockPublisher) PublishListingRemoved(ctx context.Context, id string) error {
	m.removed = append(m.removed, id)
	return m.err
}

// --- Tests ---

func TestCatalogService_Add(t *testing.T) {
	st := store.New(0.05)
	var persisted *domain.Listing
	repo := &mockListingRepo{
		upsertFn: func(ctx context.Context, l *domain.Listing) error {
			persisted = l
			return nil
		},
	}
	pub := &mockPublisher{}
	svc := usecases.NewCatalogService(st, repo, pub, nil)

	got, err := svc.Add(context.Background(), listing("A", 40.70, -74.00, 100_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
	if persisted == nil || persisted.ID != "A" {
		t.Error("listing was not persisted")
	}
	if st.Len() != 1 {
		t.Errorf("expected 1 listing in store, got %d", st.Len())
	}
	if len(pub.added) != 1 || pub.added[0] != "A" {
		t.Errorf("expected added event for A, got %v", pub.added)
	}
}

func TestCatalogService_Add_Duplicate(t *testing.T) {
	pub := &mockPublisher{}
	svc := usecases.NewCatalogService(seededStore(t), nil, pub, nil)

	_, err := svc.Add(context.Background(), listing("A", 40.70, -74.00, 1))
	if !errors.Is(err, domain.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	if len(pub.added) != 0 {
		t.Error("no event expected for a rejected add")
	}
}

func TestCatalogService_Add_InvalidCoordinateNotPersisted(t *testing.T) {
	repo := &mockListingRepo{
		upsertFn: func(ctx context.Context, l *domain.Listing) error {
			t.Error("invalid listing must not reach the repository")
			return nil
		},
	}
	svc := usecases.NewCatalogService(store.New(0.05), repo, nil, nil)
	_, err := svc.Add(context.Background(), listing("X", 120, 0, 1))
	if !errors.Is(err, domain.ErrInvalidCoordinate) {
		t.Errorf("expected ErrInvalidCoordinate, got %v", err)
	}
}

func TestCatalogService_Add_RepoFailureLeavesStoreUntouched(t *testing.T) {
	st := store.New(0.05)
	repo := &mockListingRepo{
		upsertFn: func(ctx context.Context, l *domain.Listing) error { return errors.New("db down") },
	}
	svc := usecases.NewCatalogService(st, repo, nil, nil)
	if _, err := svc.Add(context.Background(), listing("A", 40.70, -74.00, 1)); err == nil {
		t.Fatal("expected error")
	}
	if st.Len() != 0 {
		t.Errorf("expected empty store, got %d", st.Len())
	}
}

func TestCatalogService_Add_PublishFailureIsNotFatal(t *testing.T) {
	st := store.New(0.05)
	svc := usecases.NewCatalogService(st, nil, &mockPublisher{err: errors.New("nats down")}, nil)
	if _, err := svc.Add(context.Background(), listing("A", 40.70, -74.00, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Len() != 1 {
		t.Errorf("expected listing applied, got %d", st.Len())
	}
}

func TestCatalogService_Update(t *testing.T) {
	st := seededStore(t)
	pub := &mockPublisher{}
	cache := newMockCache()
	svc := usecases.NewCatalogService(st, nil, pub, cache)

	if _, err := svc.Update(context.Background(), listing("A", 40.71, -74.01, 90_000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l, _ := st.Get("A")
	if l.Price != 90_000 {
		t.Errorf("expected price 90000, got %v", l.Price)
	}
	if len(pub.updated) != 1 {
		t.Errorf("expected 1 updated event, got %d", len(pub.updated))
	}
	if len(cache.deleted) != 1 || cache.deleted[0] != "listings:id:A" {
		t.Errorf("expected cache invalidation for A, got %v", cache.deleted)
	}

	_, err := svc.Update(context.Background(), listing("ghost", 40.71, -74.01, 1))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalogService_Remove(t *testing.T) {
	st := seededStore(t)
	deleted := ""
	repo := &mockListingRepo{
		deleteFn: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	pub := &mockPublisher{}
	svc := usecases.NewCatalogService(st, repo, pub, nil)

	if err := svc.Remove(context.Background(), "B"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != "B" {
		t.Errorf("expected repo delete of B, got %q", deleted)
	}
	if _, ok := st.Get("B"); ok {
		t.Error("B still in store")
	}
	if len(pub.removed) != 1 {
		t.Errorf("expected 1 removed event, got %d", len(pub.removed))
	}
	if err := svc.Remove(context.Background(), "B"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestCatalogService_Warm(t *testing.T) {
	st := store.New(0.05)
	repo := &mockListingRepo{
		listAllFn: func(ctx context.Context) ([]domain.Listing, error) {
			return []domain.Listing{
				listing("A", 40.70, -74.00, 1),
				listing("bad", 200, 0, 1),
				listing("C", 40.72, -74.05, 1),
			}, nil
		},
	}
	svc := usecases.NewCatalogService(st, repo, nil, nil)

	n, err := svc.Warm(context.Background())
	if n != 2 {
		t.Errorf("expected 2 loaded, got %d", n)
	}
	if !errors.Is(err, domain.ErrInvalidCoordinate) {
		t.Errorf("expected skipped row reported, got %v", err)
	}
	if st.Len() != 2 {
		t.Errorf("expected 2 listings in store, got %d", st.Len())
	}
}

func TestCatalogService_Apply(t *testing.T) {
	st := seededStore(t)
	svc := usecases.NewCatalogService(st, nil, nil, nil)
	ctx := context.Background()

	d := listing("D", 40.65, -74.08, 50_000)
	if err := svc.Apply(ctx, &domain.CatalogEvent{Kind: domain.ListingAdded, Listing: &d}); err != nil {
		t.Fatalf("apply added: %v", err)
	}
	if st.Len() != 4 {
		t.Errorf("expected 4 listings, got %d", st.Len())
	}

	// Redelivery of the same event is a no-op.
	v := st.Version()
	if err := svc.Apply(ctx, &domain.CatalogEvent{Kind: domain.ListingAdded, Listing: &d}); err != nil {
		t.Fatalf("apply redelivered: %v", err)
	}
	if st.Version() != v {
		t.Errorf("redelivery bumped store version %d -> %d", v, st.Version())
	}

	d.Price = 60_000
	d.UpdatedAt = time.Now()
	if err := svc.Apply(ctx, &domain.CatalogEvent{Kind: domain.ListingUpdated, Listing: &d}); err != nil {
		t.Fatalf("apply updated: %v", err)
	}
	got, _ := st.Get("D")
	if got.Price != 60_000 {
		t.Errorf("expected price 60000, got %v", got.Price)
	}

	if err := svc.Apply(ctx, &domain.CatalogEvent{Kind: domain.ListingRemoved, ID: "D"}); err != nil {
		t.Fatalf("apply removed: %v", err)
	}
	if err := svc.Apply(ctx, &domain.CatalogEvent{Kind: domain.ListingRemoved, ID: "D"}); err != nil {
		t.Errorf("removing an absent listing should be a no-op, got %v", err)
	}
}

func TestCatalogService_Apply_InvalidEvent(t *testing.T) {
	svc := usecases.NewCatalogService(store.New(0.05), nil, nil, nil)
	err := svc.Apply(context.Background(), &domain.CatalogEvent{Kind: domain.ListingAdded, ID: "x"})
	if !errors.Is(err, domain.ErrInvalidListing) {
		t.Errorf("expected ErrInvalidListing, got %v", err)
	}
}

func TestCatalogService_Warm_RepositoryWinsOverSnapshot(t *testing.T) {
	st := store.New(0.05)
	if _, err := st.Load([]domain.Listing{
		listing("GONE", 40.70, -74.00, 1),
		listing("A", 40.72, -74.05, 1),
	}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	repo := &mockListingRepo{
		listAllFn: func(ctx context.Context) ([]domain.Listing, error) {
			return []domain.Listing{listing("A", 40.72, -74.05, 1)}, nil
		},
	}
	svc := usecases.NewCatalogService(st, repo, nil, nil)

	if _, err := svc.Warm(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Len() != 1 {
		t.Errorf("expected 1 listing, got %d", st.Len())
	}
	if _, ok := st.Get("GONE"); ok {
		t.Error("listing deleted from the repository is still in the store")
	}
}

func TestCatalogService_Warm_RepoErrorKeepsStore(t *testing.T) {
	st := seededStore(t)
	repo := &mockListingRepo{
		listAllFn: func(ctx context.Context) ([]domain.Listing, error) { return nil, errors.New("db down") },
	}
	svc := usecases.NewCatalogService(st, repo, nil, nil)

	if _, err := svc.Warm(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if st.Len() != 3 {
		t.Errorf("expected the restored listings kept, got %d", st.Len())
	}
}

// blockingRepo holds the first Upsert until release is closed and records
// every repository write in order.
type blockingRepo struct {
	mockListingRepo
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	ops    []string
	prices map[string]float64
}

func newBlockingRepo() *blockingRepo {
	r := &blockingRepo{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		prices:  map[string]float64{},
	}
	var once sync.Once
	r.upsertFn = func(ctx context.Context, l *domain.Listing) error {
		first := false
		once.Do(func() { first = true })
		if first {
			close(r.entered)
			<-r.release
		}
		r.mu.Lock()
		r.ops = append(r.ops, "upsert:"+l.ID)
		r.prices[l.ID] = l.Price
		r.mu.Unlock()
		return nil
	}
	r.deleteFn = func(ctx context.Context, id string) error {
		r.mu.Lock()
		r.ops = append(r.ops, "delete:"+id)
		delete(r.prices, id)
		r.mu.Unlock()
		return nil
	}
	return r
}

func TestCatalogService_ConcurrentAddsOfSameID(t *testing.T) {
	st := store.New(0.05)
	repo := newBlockingRepo()
	svc := usecases.NewCatalogService(st, repo, nil, nil)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := svc.Add(ctx, listing("X", 40.70, -74.00, 111))
		first <- err
	}()
	<-repo.entered

	second := make(chan error, 1)
	go func() {
		_, err := svc.Add(ctx, listing("X", 40.70, -74.00, 222))
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(repo.release)

	if err := <-first; err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := <-second; !errors.Is(err, domain.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID for the second add, got %v", err)
	}

	l, _ := st.Get("X")
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.ops) != 1 {
		t.Errorf("expected a single repository write, got %v", repo.ops)
	}
	if repo.prices["X"] != l.Price {
		t.Errorf("repository price %v diverged from store price %v", repo.prices["X"], l.Price)
	}
}

func TestCatalogService_UpdateRacingRemove(t *testing.T) {
	st := seededStore(t)
	repo := newBlockingRepo()
	svc := usecases.NewCatalogService(st, repo, nil, nil)
	ctx := context.Background()

	updated := make(chan error, 1)
	go func() {
		_, err := svc.Update(ctx, listing("A", 40.71, -74.01, 90_000))
		updated <- err
	}()
	<-repo.entered

	removed := make(chan error, 1)
	go func() { removed <- svc.Remove(ctx, "A") }()
	time.Sleep(20 * time.Millisecond)
	close(repo.release)

	if err := <-updated; err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := <-removed; err != nil {
		t.Fatalf("remove: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.ops) != 2 || repo.ops[0] != "upsert:A" || repo.ops[1] != "delete:A" {
		t.Errorf("expected upsert then delete, got %v", repo.ops)
	}
	if _, ok := repo.prices["A"]; ok {
		t.Error("removed listing was written back to the repository")
	}
	if _, ok := st.Get("A"); ok {
		t.Error("removed listing still in store")
	}
}

func TestCatalogService_Apply_DropsOlderEvent(t *testing.T) {
	st := store.New(0.05)
	svc := usecases.NewCatalogService(st, nil, nil, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	newer := listing("E", 40.70, -74.00, 200)
	newer.UpdatedAt = t0.Add(time.Minute)
	older := listing("E", 40.70, -74.00, 100)
	older.UpdatedAt = t0

	if err := svc.Apply(ctx, &domain.CatalogEvent{Kind: domain.ListingUpdated, Listing: &newer}); err != nil {
		t.Fatalf("apply newer: %v", err)
	}
	v := st.Version()
	if err := svc.Apply(ctx, &domain.CatalogEvent{Kind: domain.ListingUpdated, Listing: &older}); err != nil {
		t.Fatalf("apply older: %v", err)
	}
	got, _ := st.Get("E")
	if got.Price != 200 {
		t.Errorf("older event rolled the listing back to price %v", got.Price)
	}
	if st.Version() != v {
		t.Error("older event mutated the store")
	}
}
