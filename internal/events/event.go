package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeHoldCreated      = "HOLD_CREATED"
	TypeHoldReleased     = "HOLD_RELEASED"
	TypeHoldExpired      = "HOLD_EXPIRED"
	TypeBookingConfirmed = "BOOKING_CONFIRMED"
	TypeBookingCancelled = "BOOKING_CANCELLED"
	TypeSlotCompleted    = "SLOT_COMPLETED"
	TypeSlotWithdrawn    = "SLOT_WITHDRAWN"
)

// Event is what collaborators (payments, chat rooms, notifications) consume
// after a slot transition has been committed.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	SlotID      uuid.UUID `json:"slot_id"`
	ProviderID  string    `json:"provider_id"`
	HolderID    string    `json:"holder_id,omitempty"`
	Status      string    `json:"status"`
	BookedCount int       `json:"booked_count"`
	MaxCapacity int       `json:"max_capacity"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

// NewNop returns a publisher that drops every event.
func NewNop() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
