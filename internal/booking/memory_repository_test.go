package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRepositoryContract exercises the behaviour every Repository must share.
// The Postgres and Mongo tests run it against live databases.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		repo := newRepo(t)
		in := freshSlot(2)
		created, err := repo.CreateSlot(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)

		byID, err := repo.GetSlot(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, in.ProviderID, byID.ProviderID)
		assert.True(t, in.StartTime.Equal(byID.StartTime))
		assert.Equal(t, 2, byID.MaxCapacity)

		byKey, err := repo.GetSlotByKey(ctx, in.Key())
		require.NoError(t, err)
		assert.Equal(t, in.ID, byKey.ID)
	})

	t.Run("duplicate natural key", func(t *testing.T) {
		repo := newRepo(t)
		in := freshSlot(1)
		_, err := repo.CreateSlot(ctx, in)
		require.NoError(t, err)

		in.ID = uuid.New()
		_, err = repo.CreateSlot(ctx, in)
		assert.ErrorIs(t, err, ErrDuplicateSlot)
	})

	t.Run("missing slot", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetSlot(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("transition bumps version and rejects stale writers", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.CreateSlot(ctx, freshSlot(1))
		require.NoError(t, err)

		reserve := func(cur Slot) (Slot, error) {
			return applyReserve(cur, "P1", time.Minute, testNow)
		}

		updated, err := repo.TryTransition(ctx, created.ID, created.Version, reserve)
		require.NoError(t, err)
		assert.Equal(t, created.Version+1, updated.Version)
		require.NotNil(t, updated.Reservation)
		assert.Equal(t, "P1", updated.Reservation.HolderID)

		_, err = repo.TryTransition(ctx, created.ID, created.Version, reserve)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("mutation errors pass through untouched", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.CreateSlot(ctx, freshSlot(1))
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = repo.TryTransition(ctx, created.ID, created.Version, func(Slot) (Slot, error) {
			return Slot{}, boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repo.GetSlot(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.Version, got.Version)
	})

	t.Run("invalid next state is refused", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.CreateSlot(ctx, freshSlot(1))
		require.NoError(t, err)

		_, err = repo.TryTransition(ctx, created.ID, created.Version, func(cur Slot) (Slot, error) {
			cur.BookedCount = cur.MaxCapacity + 1
			return cur, nil
		})
		assert.Error(t, err)
	})

	t.Run("find slots and expired holds", func(t *testing.T) {
		repo := newRepo(t)
		provider := "P-" + uuid.NewString()

		var ids []uuid.UUID
		for i := 0; i < 3; i++ {
			s := freshSlot(1)
			s.ProviderID = provider
			s.StartTime = s.StartTime.Add(time.Duration(2-i) * time.Hour)
			s.EndTime = s.StartTime.Add(30 * time.Minute)
			created, err := repo.CreateSlot(ctx, s)
			require.NoError(t, err)
			ids = append(ids, created.ID)
		}

		found, err := repo.FindSlots(ctx, provider, DateRange{From: testNow, To: testNow})
		require.NoError(t, err)
		require.Len(t, found, 3)
		assert.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, []uuid.UUID{found[0].ID, found[1].ID, found[2].ID})

		first, err := repo.GetSlot(ctx, ids[0])
		require.NoError(t, err)
		_, err = repo.TryTransition(ctx, first.ID, first.Version, func(cur Slot) (Slot, error) {
			return applyReserve(cur, "P1", time.Minute, testNow)
		})
		require.NoError(t, err)

		expired, err := repo.FindExpiredHolds(ctx, testNow.Add(30*time.Second), 10000)
		require.NoError(t, err)
		assert.NotContains(t, slotIDs(expired), first.ID)

		expired, err = repo.FindExpiredHolds(ctx, testNow.Add(2*time.Minute), 10000)
		require.NoError(t, err)
		assert.Contains(t, slotIDs(expired), first.ID)
	})

	t.Run("delete checks version", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.CreateSlot(ctx, freshSlot(1))
		require.NoError(t, err)

		assert.ErrorIs(t, repo.DeleteSlot(ctx, created.ID, created.Version+1), ErrVersionConflict)
		require.NoError(t, repo.DeleteSlot(ctx, created.ID, created.Version))
		assert.ErrorIs(t, repo.DeleteSlot(ctx, created.ID, created.Version), ErrNotFound)
	})
}

// freshSlot gives every slot its own provider so tests sharing a database
// never collide on the natural key.
func freshSlot(capacity int) Slot {
	s := baseSlot(capacity)
	s.ProviderID = "D-" + uuid.NewString()
	return s
}

func slotIDs(slots []Slot) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.ID)
	}
	return out
}

func TestMemoryRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository {
		return NewMemoryRepository()
	})
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	created, err := repo.CreateSlot(ctx, reserved(baseSlot(1), "P1", testNow.Add(time.Minute)))
	require.NoError(t, err)

	got, err := repo.GetSlot(ctx, created.ID)
	require.NoError(t, err)
	got.Reservation.HolderID = "mutated"

	again, err := repo.GetSlot(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "P1", again.Reservation.HolderID)
}
