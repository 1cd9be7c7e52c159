package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Mutation computes the next state of a slot from its current state. It must
// not retain or modify the argument's Reservation pointer.
type Mutation func(current Slot) (Slot, error)

// Repository is the slot store. Every state change goes through TryTransition,
// which only writes if the stored version still equals expectedVersion.
type Repository interface {
	CreateSlot(ctx context.Context, s Slot) (*Slot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	GetSlotByKey(ctx context.Context, key SlotKey) (*Slot, error)

	// FindSlots returns the provider's slots in the range ordered by date and start time.
	FindSlots(ctx context.Context, providerID string, r DateRange) ([]Slot, error)

	// FindExpiredHolds returns RESERVED slots whose hold expired before now.
	FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Slot, error)

	// TryTransition applies mutate and bumps the version, or fails with
	// ErrVersionConflict if expectedVersion is stale.
	TryTransition(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (*Slot, error)

	DeleteSlot(ctx context.Context, id uuid.UUID, expectedVersion int64) error
}

func cloneSlot(s Slot) Slot {
	if s.Reservation != nil {
		r := *s.Reservation
		s.Reservation = &r
	}
	return s
}
