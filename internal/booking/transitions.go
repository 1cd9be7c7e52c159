package booking

import (
	"time"

	"github.com/google/uuid"
)

// The functions in this file are the slot state machine. They are pure: they
// take the slot as last read from the store and return the slot to write,
// leaving persistence and version checks to the Repository.

func applyReserve(s Slot, holderID string, hold time.Duration, now time.Time) (Slot, error) {
	if s.Status.Terminal() {
		return s, ErrSlotClosed
	}
	if s.Started(now) {
		return s, ErrSlotInPast
	}

	switch s.EffectiveStatus(now) {
	case StatusBooked:
		return s, ErrSlotFull
	case StatusReserved:
		return s, ErrSlotHeld
	}
	if s.BookedCount >= s.MaxCapacity {
		return s, ErrSlotFull
	}

	var evicted string
	if s.Reservation != nil {
		evicted = s.Reservation.HolderID
	}

	s.Status = StatusReserved
	s.Reservation = &Reservation{
		ID:              uuid.New(),
		HolderID:        holderID,
		ReservedAt:      now,
		ExpiresAt:       now.Add(hold),
		EvictedHolderID: evicted,
	}
	return s, nil
}

func applyConfirm(s Slot, holderID string, now time.Time, strict bool) (Slot, error) {
	if s.Status.Terminal() {
		return s, ErrSlotClosed
	}

	r := s.Reservation
	if s.Status != StatusReserved || r == nil {
		return s, ErrHoldExpired
	}
	if r.HolderID != holderID {
		if r.EvictedHolderID == holderID {
			return s, ErrHoldExpired
		}
		return s, ErrHolderMismatch
	}
	if r.Expired(now) && strict {
		return s, ErrHoldExpired
	}
	if s.Started(now) {
		return s, ErrSlotInPast
	}

	s.BookedCount++
	s.Reservation = nil
	if s.BookedCount >= s.MaxCapacity {
		s.Status = StatusBooked
	} else {
		s.Status = StatusAvailable
	}
	return s, nil
}

// applyRelease clears the caller's hold. It reports false when there is
// nothing of the caller's to release, which callers treat as success.
func applyRelease(s Slot, holderID string) (Slot, bool) {
	if s.Status != StatusReserved || s.Reservation == nil || s.Reservation.HolderID != holderID {
		return s, false
	}
	s.Status = StatusAvailable
	s.Reservation = nil
	return s, true
}

// applyExpire is the sweeper's release: it only fires for lapsed holds.
func applyExpire(s Slot, now time.Time) (Slot, bool) {
	if s.Status != StatusReserved || s.Reservation == nil || !s.Reservation.Expired(now) {
		return s, false
	}
	s.Status = StatusAvailable
	s.Reservation = nil
	return s, true
}

func applyCancelBooking(s Slot) (Slot, error) {
	if s.Status == StatusCompleted {
		return s, ErrSlotClosed
	}
	if s.BookedCount == 0 {
		return s, ErrNoBooking
	}

	s.BookedCount--
	if s.Status == StatusBooked {
		s.Status = StatusAvailable
	}
	return s, nil
}

func applyComplete(s Slot, now time.Time) (Slot, error) {
	if s.Status.Terminal() {
		return s, ErrSlotClosed
	}
	if s.BookedCount == 0 {
		return s, ErrNoBooking
	}
	if !s.Started(now) {
		return s, ErrNotYetCompletable
	}

	s.Status = StatusCompleted
	s.Reservation = nil
	return s, nil
}

// applyWithdraw is the administrative override to CANCELLED. Withdrawing an
// already cancelled slot is a no-op.
func applyWithdraw(s Slot) (Slot, bool, error) {
	switch s.Status {
	case StatusCompleted:
		return s, false, ErrSlotClosed
	case StatusCancelled:
		return s, false, nil
	}
	s.Status = StatusCancelled
	s.Reservation = nil
	return s, true, nil
}
