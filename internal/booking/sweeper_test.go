package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-booking-engine/internal/events"
	redisclient "github.com/hackgods/slot-booking-engine/internal/redis"
)

type stubLocker struct {
	held  bool
	calls int
	key   string
}

func (l *stubLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.calls++
	l.key = key
	if l.held {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

func TestSweepExpiredHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	short := f.slotAt(t, "D1", 2*time.Hour, 1)
	long := f.slotAt(t, "D1", 3*time.Hour, 1)
	_, err := f.svc.Reserve(ctx, short.ID, "P1", time.Minute)
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, long.ID, "P2", 10*time.Minute)
	require.NoError(t, err)

	n, err := f.svc.SweepExpiredHolds(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Minute)
	n, err = f.svc.SweepExpiredHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, StatusAvailable, f.reload(t, short.ID).Status)
	assert.Equal(t, StatusReserved, f.reload(t, long.ID).Status)
	assert.Contains(t, f.pub.types(), events.TypeHoldExpired)

	// a second pass finds nothing left to do
	n, err = f.svc.SweepExpiredHolds(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// racingRepo lets another writer take over a slot between the sweeper's scan
// and its write.
type racingRepo struct {
	*MemoryRepository
	svc    *Service
	raced  bool
	holder string
}

func (r *racingRepo) FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Slot, error) {
	found, err := r.MemoryRepository.FindExpiredHolds(ctx, now, limit)
	if err != nil || r.raced || len(found) == 0 {
		return found, err
	}
	r.raced = true
	if _, err := r.svc.Reserve(ctx, found[0].ID, r.holder, 20*time.Minute); err != nil {
		return nil, err
	}
	return found, nil
}

func TestSweepExpiredHolds_SkipsSlotsThatChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	repo := &racingRepo{MemoryRepository: f.repo, holder: "P2"}
	svc := NewService(repo, f.pub, f.clock, WithCASRetry(3, time.Millisecond))
	repo.svc = svc

	s := f.slot(t, 1)
	_, err := svc.Reserve(ctx, s.ID, "P1", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	n, err := svc.SweepExpiredHolds(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got := f.reload(t, s.ID)
	assert.Equal(t, StatusReserved, got.Status)
	assert.Equal(t, "P2", got.Reservation.HolderID)
}

func TestSweeper_RunOnce(t *testing.T) {
	t.Run("without lock", func(t *testing.T) {
		f := newFixture(t)
		s := f.slot(t, 1)
		_, err := f.svc.Reserve(context.Background(), s.ID, "P1", time.Minute)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)

		sw := NewSweeper(f.svc, time.Minute, nil, nil)
		assert.Equal(t, 1, sw.RunOnce(context.Background()))
	})

	t.Run("lock held elsewhere skips the pass", func(t *testing.T) {
		f := newFixture(t)
		s := f.slot(t, 1)
		_, err := f.svc.Reserve(context.Background(), s.ID, "P1", time.Minute)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)

		locker := &stubLocker{held: true}
		sw := NewSweeper(f.svc, time.Minute, locker, nil)
		assert.Zero(t, sw.RunOnce(context.Background()))
		assert.Equal(t, 1, locker.calls)
		assert.Equal(t, redisclient.SweeperLockKey, locker.key)
		assert.Equal(t, StatusReserved, f.reload(t, s.ID).Status)

		locker.held = false
		assert.Equal(t, 1, sw.RunOnce(context.Background()))
	})
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	sw := NewSweeper(f.svc, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
