package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking-engine/internal/booking"
	"github.com/hackgods/slot-booking-engine/internal/config"
)

func memoryConfig() config.Config {
	return config.Config{
		Env:                  "test",
		StoreBackend:         config.StoreMemory,
		EventsBackend:        config.EventsNone,
		HoldDuration:         2 * time.Minute,
		MaxHoldDuration:      15 * time.Minute,
		CASMaxAttempts:       3,
		CASBackoff:           time.Millisecond,
		StrictExpiredConfirm: true,
		SweeperInterval:      time.Minute,
		SweepBatchSize:       100,
		SweeperLeaderLock:    true,
		LockTTL:              30 * time.Second,
	}
}

func TestBootstrap_Memory(t *testing.T) {
	rt, err := Bootstrap(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	assert.IsType(t, &booking.MemoryRepository{}, rt.Repo)
	assert.Nil(t, rt.Redis)
	assert.Empty(t, rt.Dependencies)
	assert.Nil(t, rt.Locker(), "no redis means no leader lock")
	assert.Equal(t, 2*time.Minute, rt.Service.DefaultHoldDuration())

	ctx := context.Background()
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	slot, err := rt.Service.CreateSlot(ctx, booking.NewSlotInput{
		ProviderID:  "D1",
		Date:        start,
		StartTime:   start,
		EndTime:     start.Add(30 * time.Minute),
		MaxCapacity: 1,
	})
	require.NoError(t, err)

	_, err = rt.Service.Reserve(ctx, slot.ID, "P1", 20*time.Minute)
	assert.ErrorIs(t, err, booking.ErrHoldTooLong)

	hold, err := rt.Service.Reserve(ctx, slot.ID, "P1", rt.Service.DefaultHoldDuration())
	require.NoError(t, err)
	assert.Equal(t, slot.ID, hold.SlotID)

	assert.Zero(t, rt.NewSweeper().RunOnce(ctx))
}

func TestRuntime_CloseOrder(t *testing.T) {
	var order []int
	rt := &Runtime{}
	rt.addCloser(func() { order = append(order, 1) })
	rt.addCloser(func() { order = append(order, 2) })
	rt.addCloser(func() { order = append(order, 3) })

	rt.Close()
	rt.Close()

	assert.Equal(t, []int{3, 2, 1}, order)
}
