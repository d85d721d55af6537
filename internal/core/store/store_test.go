package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/etxea/internal/core/domain"
)

func listing(id string, lat, lon, price float64) domain.Listing {
	return domain.Listing{ID: id, Location: domain.GeoPoint{Lat: lat, Lon: lon}, Price: price}
}

var nyc = domain.Bounds{North: 40.80, South: 40.62, East: -73.90, West: -74.11}

func TestStore_AddRejectsInvalidCoordinateBeforeIndex(t *testing.T) {
	s := New(0.05)
	err := s.OnListingAdded(listing("bad", 123, 0, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinate)
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Version())
}

func TestStore_AddDuplicate(t *testing.T) {
	s := New(0.05)
	require.NoError(t, s.OnListingAdded(listing("a", 40.7, -74, 1)))
	assert.ErrorIs(t, s.OnListingAdded(listing("a", 40.7, -74, 2)), domain.ErrDuplicateID)
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Price)
}

func TestStore_UpdateMovesInIndex(t *testing.T) {
	s := New(0.05)
	require.NoError(t, s.OnListingAdded(listing("a", 40.7, -74, 1)))
	require.NoError(t, s.OnListingUpdated(listing("a", 43.26, -2.93, 2)))

	err := s.View(func(v Snapshot) error {
		assert.Empty(t, v.QueryBoundingBox(nyc))
		assert.Equal(t, []string{"a"}, v.QueryRadius(domain.GeoPoint{Lat: 43.26, Lon: -2.93}, 10))
		l, ok := v.Get("a")
		require.True(t, ok)
		assert.Equal(t, 2.0, l.Price)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_UpdateAndRemoveMissing(t *testing.T) {
	s := New(0.05)
	assert.ErrorIs(t, s.OnListingUpdated(listing("ghost", 0, 0, 1)), domain.ErrNotFound)
	assert.ErrorIs(t, s.OnListingRemoved("ghost"), domain.ErrNotFound)
}

func TestStore_OrdinalsStableAndNeverReused(t *testing.T) {
	s := New(0.05)
	require.NoError(t, s.OnListingAdded(listing("a", 40.7, -74, 1)))
	require.NoError(t, s.OnListingAdded(listing("b", 40.7, -74, 1)))

	var ordA, ordB uint32
	_ = s.View(func(v Snapshot) error {
		ordA, _ = v.Ordinal("a")
		ordB, _ = v.Ordinal("b")
		return nil
	})
	require.NoError(t, s.OnListingUpdated(listing("a", 40.71, -74, 5)))
	require.NoError(t, s.OnListingRemoved("b"))
	require.NoError(t, s.OnListingAdded(listing("b", 40.7, -74, 1)))

	_ = s.View(func(v Snapshot) error {
		got, ok := v.Ordinal("a")
		require.True(t, ok)
		assert.Equal(t, ordA, got)
		again, ok := v.Ordinal("b")
		require.True(t, ok)
		assert.NotEqual(t, ordB, again)
		id, ok := v.IDForOrdinal(again)
		assert.True(t, ok)
		assert.Equal(t, "b", id)
		_, ok = v.IDForOrdinal(ordB)
		assert.False(t, ok)
		return nil
	})
}

func TestStore_ObserversSeeChanges(t *testing.T) {
	s := New(0.05)
	var changes []Change
	cancel := s.Subscribe(func(ch Change) { changes = append(changes, ch) })

	require.NoError(t, s.OnListingAdded(listing("a", 40.7, -74, 1)))
	require.NoError(t, s.OnListingUpdated(listing("a", 40.7, -74, 2)))
	require.NoError(t, s.OnListingRemoved("a"))
	cancel()
	require.NoError(t, s.OnListingAdded(listing("b", 40.7, -74, 1)))

	require.Len(t, changes, 3)
	assert.Equal(t, Added, changes[0].Kind)
	assert.Nil(t, changes[0].Old)
	assert.Equal(t, Updated, changes[1].Kind)
	assert.Equal(t, 1.0, changes[1].Old.Price)
	assert.Equal(t, 2.0, changes[1].New.Price)
	assert.Equal(t, Removed, changes[2].Kind)
	assert.Nil(t, changes[2].New)
	assert.Equal(t, uint64(3), changes[2].Version)
}

func TestStore_ObserverMayReadStore(t *testing.T) {
	s := New(0.05)
	var seen int
	s.Subscribe(func(Change) { seen = s.Len() })
	require.NoError(t, s.OnListingAdded(listing("a", 40.7, -74, 1)))
	assert.Equal(t, 1, seen)
}

func TestStore_Upsert(t *testing.T) {
	s := New(0.05)
	kind, err := s.Upsert(listing("a", 40.7, -74, 1))
	require.NoError(t, err)
	assert.Equal(t, Added, kind)
	kind, err = s.Upsert(listing("a", 40.7, -74, 2))
	require.NoError(t, err)
	assert.Equal(t, Updated, kind)
	assert.Equal(t, 1, s.Len())
}

func TestStore_LoadSkipsInvalid(t *testing.T) {
	s := New(0.05)
	var resets int
	s.Subscribe(func(ch Change) {
		if ch.Kind == Reset {
			resets++
		}
	})

	n, err := s.Load([]domain.Listing{
		listing("a", 40.7, -74, 1),
		listing("b", 95, -74, 1),
		listing("", 40.7, -74, 1),
		listing("c", 40.71, -74.01, 1),
	})
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinate)
	assert.ErrorIs(t, err, domain.ErrInvalidListing)
	assert.Equal(t, 1, resets)

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "c", all[1].ID)
}

func TestStore_ReplaceDropsListingsMissingFromBatch(t *testing.T) {
	s := New(0.05)
	_, err := s.Load([]domain.Listing{
		listing("GONE", 40.70, -74.00, 1),
		listing("A", 40.72, -74.05, 1),
	})
	require.NoError(t, err)

	var resets int
	s.Subscribe(func(ch Change) {
		if ch.Kind == Reset {
			resets++
		}
	})
	before := s.Version()

	n, err := s.Replace([]domain.Listing{listing("A", 40.72, -74.05, 2)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, resets)
	assert.Greater(t, s.Version(), before)

	_, ok := s.Get("GONE")
	assert.False(t, ok, "listing absent from the authoritative batch must be removed")
	a, _ := s.Get("A")
	assert.Equal(t, 2.0, a.Price)

	_ = s.View(func(v Snapshot) error {
		assert.Equal(t, []string{"A"}, v.QueryBoundingBox(nyc))
		_, ok := v.Ordinal("GONE")
		assert.False(t, ok)
		return nil
	})
}

func TestStore_ReplaceWithEmptyBatchClears(t *testing.T) {
	s := New(0.05)
	require.NoError(t, s.OnListingAdded(listing("a", 40.7, -74, 1)))

	n, err := s.Replace(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, s.Len())
}

func TestStore_SnapshotPointersSurviveUpdate(t *testing.T) {
	s := New(0.05)
	require.NoError(t, s.OnListingAdded(listing("a", 40.7, -74, 1)))
	var held *domain.Listing
	_ = s.View(func(v Snapshot) error {
		held, _ = v.Get("a")
		return nil
	})
	require.NoError(t, s.OnListingUpdated(listing("a", 40.7, -74, 99)))
	assert.Equal(t, 1.0, held.Price)
}

// Readers see the index and the listing map from the same version.
func TestStore_ConcurrentReadersSeeConsistentState(t *testing.T) {
	s := New(0.05)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			id := fmt.Sprintf("l%d", i)
			_ = s.OnListingAdded(listing(id, 40.7, -74, 1))
			if i%2 == 0 {
				_ = s.OnListingRemoved(id)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		_ = s.View(func(v Snapshot) error {
			ids := v.QueryBoundingBox(nyc)
			assert.Len(t, ids, v.Len())
			for _, id := range ids {
				_, ok := v.Get(id)
				assert.True(t, ok, "index returned %s missing from listings", id)
			}
			return nil
		})
	}
	wg.Wait()
}
