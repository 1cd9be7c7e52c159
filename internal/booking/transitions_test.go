package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSlot(capacity int) Slot {
	start := testNow.Add(2 * time.Hour)
	return Slot{
		ID:          uuid.New(),
		ProviderID:  "D1",
		Date:        truncateDate(start),
		StartTime:   start,
		EndTime:     start.Add(30 * time.Minute),
		MaxCapacity: capacity,
		Status:      StatusAvailable,
		Version:     1,
	}
}

func reserved(s Slot, holder string, expires time.Time) Slot {
	s.Status = StatusReserved
	s.Reservation = &Reservation{ID: uuid.New(), HolderID: holder, ReservedAt: testNow, ExpiresAt: expires}
	return s
}

func TestApplyReserve(t *testing.T) {
	tests := []struct {
		name    string
		slot    Slot
		now     time.Time
		wantErr error
		evicted string
	}{
		{name: "available", slot: baseSlot(1), now: testNow},
		{name: "lapsed hold is evicted", slot: reserved(baseSlot(1), "P0", testNow.Add(-time.Second)), now: testNow, evicted: "P0"},
		{name: "live hold", slot: reserved(baseSlot(1), "P0", testNow.Add(time.Minute)), now: testNow, wantErr: ErrSlotHeld},
		{name: "booked", slot: func() Slot { s := baseSlot(1); s.Status, s.BookedCount = StatusBooked, 1; return s }(), now: testNow, wantErr: ErrSlotFull},
		{name: "cancelled", slot: func() Slot { s := baseSlot(1); s.Status = StatusCancelled; return s }(), now: testNow, wantErr: ErrSlotClosed},
		{name: "completed", slot: func() Slot { s := baseSlot(1); s.Status = StatusCompleted; return s }(), now: testNow, wantErr: ErrSlotClosed},
		{name: "started", slot: baseSlot(1), now: testNow.Add(2 * time.Hour), wantErr: ErrSlotInPast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := applyReserve(tt.slot, "P1", 5*time.Minute, tt.now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, next.Validate())
			assert.Equal(t, StatusReserved, next.Status)
			assert.Equal(t, "P1", next.Reservation.HolderID)
			assert.Equal(t, tt.now.Add(5*time.Minute), next.Reservation.ExpiresAt)
			assert.Equal(t, tt.evicted, next.Reservation.EvictedHolderID)
		})
	}
}

func TestApplyReserve_DoesNotAliasInput(t *testing.T) {
	in := reserved(baseSlot(1), "P0", testNow.Add(-time.Second))
	orig := *in.Reservation

	_, err := applyReserve(in, "P1", time.Minute, testNow)
	require.NoError(t, err)
	assert.Equal(t, orig, *in.Reservation)
}

func TestApplyConfirm(t *testing.T) {
	live := reserved(baseSlot(2), "P1", testNow.Add(time.Minute))
	lapsed := reserved(baseSlot(1), "P1", testNow.Add(-time.Second))
	takenOver := reserved(baseSlot(1), "P2", testNow.Add(time.Minute))
	takenOver.Reservation.EvictedHolderID = "P1"

	tests := []struct {
		name       string
		slot       Slot
		holder     string
		strict     bool
		wantErr    error
		wantStatus SlotStatus
	}{
		{name: "live hold, spare capacity", slot: live, holder: "P1", strict: true, wantStatus: StatusAvailable},
		{name: "wrong holder", slot: live, holder: "P9", strict: true, wantErr: ErrHolderMismatch},
		{name: "evicted holder", slot: takenOver, holder: "P1", strict: true, wantErr: ErrHoldExpired},
		{name: "lapsed strict", slot: lapsed, holder: "P1", strict: true, wantErr: ErrHoldExpired},
		{name: "lapsed lenient", slot: lapsed, holder: "P1", strict: false, wantStatus: StatusBooked},
		{name: "no hold", slot: baseSlot(1), holder: "P1", strict: true, wantErr: ErrHoldExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := applyConfirm(tt.slot, tt.holder, testNow, tt.strict)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, next.Validate())
			assert.Equal(t, tt.wantStatus, next.Status)
			assert.Equal(t, tt.slot.BookedCount+1, next.BookedCount)
			assert.Nil(t, next.Reservation)
		})
	}
}

func TestApplyRelease(t *testing.T) {
	s := reserved(baseSlot(1), "P1", testNow.Add(time.Minute))

	_, changed := applyRelease(s, "P2")
	assert.False(t, changed)

	next, changed := applyRelease(s, "P1")
	require.True(t, changed)
	assert.Equal(t, StatusAvailable, next.Status)
	assert.Nil(t, next.Reservation)

	_, changed = applyRelease(next, "P1")
	assert.False(t, changed)
}

func TestApplyExpire(t *testing.T) {
	s := reserved(baseSlot(1), "P1", testNow.Add(time.Minute))

	_, ok := applyExpire(s, testNow)
	assert.False(t, ok)

	next, ok := applyExpire(s, testNow.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, StatusAvailable, next.Status)
}

func TestApplyCancelBooking(t *testing.T) {
	booked := baseSlot(2)
	booked.Status, booked.BookedCount = StatusBooked, 2

	next, err := applyCancelBooking(booked)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, next.Status)
	assert.Equal(t, 1, next.BookedCount)
	require.NoError(t, next.Validate())

	cancelled := baseSlot(1)
	cancelled.Status, cancelled.BookedCount = StatusCancelled, 1
	next, err = applyCancelBooking(cancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, next.Status)
	assert.Equal(t, 0, next.BookedCount)

	_, err = applyCancelBooking(baseSlot(1))
	assert.ErrorIs(t, err, ErrNoBooking)

	completed := baseSlot(1)
	completed.Status, completed.BookedCount = StatusCompleted, 1
	_, err = applyCancelBooking(completed)
	assert.ErrorIs(t, err, ErrSlotClosed)
}

func TestSlotValidate(t *testing.T) {
	bad := []struct {
		name string
		s    func() Slot
	}{
		{"zero capacity", func() Slot { s := baseSlot(1); s.MaxCapacity = 0; return s }},
		{"overbooked", func() Slot { s := baseSlot(1); s.BookedCount = 2; return s }},
		{"reserved without hold", func() Slot { s := baseSlot(1); s.Status = StatusReserved; return s }},
		{"hold on available", func() Slot {
			s := reserved(baseSlot(1), "P1", testNow)
			s.Status = StatusAvailable
			return s
		}},
		{"available at capacity", func() Slot { s := baseSlot(1); s.BookedCount = 1; return s }},
		{"booked below capacity", func() Slot { s := baseSlot(2); s.Status, s.BookedCount = StatusBooked, 1; return s }},
		{"unknown status", func() Slot { s := baseSlot(1); s.Status = "LIMBO"; return s }},
		{"inverted window", func() Slot { s := baseSlot(1); s.EndTime = s.StartTime; return s }},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.s().Validate())
		})
	}

	assert.NoError(t, baseSlot(1).Validate())
}

func TestNewSlotKey(t *testing.T) {
	key, err := NewSlotKey("D1", "2024-06-01", "09:00", "09:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), key.Date)
	assert.Equal(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), key.StartTime)
	assert.Equal(t, time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC), key.EndTime)

	for _, in := range [][3]string{
		{"2024-13-01", "09:00", "09:30"},
		{"2024-06-01", "9am", "09:30"},
		{"2024-06-01", "09:00", "25:00"},
	} {
		_, err := NewSlotKey("D1", in[0], in[1], in[2])
		assert.ErrorIs(t, err, ErrInvalidArgument, "%v", in)
	}
}
