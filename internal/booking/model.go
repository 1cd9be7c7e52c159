package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	StatusAvailable SlotStatus = "AVAILABLE"
	StatusReserved  SlotStatus = "RESERVED"
	StatusBooked    SlotStatus = "BOOKED"
	StatusCancelled SlotStatus = "CANCELLED"
	StatusCompleted SlotStatus = "COMPLETED"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusBooked, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further capacity transitions are allowed.
func (s SlotStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Reservation is the hold currently sitting on a slot. It only exists while
// the slot is RESERVED and is dropped when the hold resolves.
type Reservation struct {
	ID         uuid.UUID
	HolderID   string
	ReservedAt time.Time
	ExpiresAt  time.Time
	// EvictedHolderID is the holder whose lapsed hold this one replaced.
	EvictedHolderID string
}

// Hold is what a successful reserve hands back: the reservation and the slot
// it sits on.
type Hold struct {
	SlotID uuid.UUID
	Reservation
}

func (r *Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// SlotKey is the natural key of a slot.
type SlotKey struct {
	ProviderID string
	Date       time.Time
	StartTime  time.Time
	EndTime    time.Time
}

type Slot struct {
	ID          uuid.UUID
	ProviderID  string
	Date        time.Time
	StartTime   time.Time
	EndTime     time.Time
	MaxCapacity int
	BookedCount int
	Status      SlotStatus
	Reservation *Reservation
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s Slot) Key() SlotKey {
	return SlotKey{
		ProviderID: s.ProviderID,
		Date:       s.Date,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
	}
}

// EffectiveStatus recomputes hold expiry on the fly so a lapsed RESERVED slot
// reads as AVAILABLE before the sweeper gets to it.
func (s Slot) EffectiveStatus(now time.Time) SlotStatus {
	if s.Status == StatusReserved && s.Reservation != nil && s.Reservation.Expired(now) {
		return StatusAvailable
	}
	return s.Status
}

func (s Slot) RemainingCapacity() int {
	return s.MaxCapacity - s.BookedCount
}

// Started reports whether the slot's time window has begun.
func (s Slot) Started(now time.Time) bool {
	return !now.Before(s.StartTime)
}

// Validate checks the structural invariants of a slot. Every store write goes
// through it, so a transition bug surfaces as an error instead of bad state.
func (s Slot) Validate() error {
	if s.MaxCapacity < 1 {
		return fmt.Errorf("%w: max capacity must be at least 1", ErrInvalidArgument)
	}
	if s.BookedCount < 0 || s.BookedCount > s.MaxCapacity {
		return fmt.Errorf("invariant: booked count %d outside [0,%d]", s.BookedCount, s.MaxCapacity)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invariant: unknown status %q", s.Status)
	}
	if !s.EndTime.After(s.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidArgument)
	}

	if (s.Status == StatusReserved) != (s.Reservation != nil) {
		return fmt.Errorf("invariant: status %s with reservation present=%t", s.Status, s.Reservation != nil)
	}

	switch s.Status {
	case StatusAvailable, StatusReserved:
		if s.BookedCount >= s.MaxCapacity {
			return fmt.Errorf("invariant: %s slot is at capacity", s.Status)
		}
	case StatusBooked:
		if s.BookedCount != s.MaxCapacity {
			return fmt.Errorf("invariant: BOOKED slot has %d/%d bookings", s.BookedCount, s.MaxCapacity)
		}
	}
	return nil
}

// DateRange is an inclusive range of civil dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && !r.To.Before(r.From)
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(v string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrInvalidArgument, v)
	}
	return d, nil
}

// ParseClock combines a date with an HH:MM wall-clock time in UTC.
func ParseClock(date time.Time, v string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid time %q", ErrInvalidArgument, v)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}

// NewSlotKey builds a key from wire-format strings.
func NewSlotKey(providerID, date, start, end string) (SlotKey, error) {
	d, err := ParseDate(date)
	if err != nil {
		return SlotKey{}, err
	}
	st, err := ParseClock(d, start)
	if err != nil {
		return SlotKey{}, err
	}
	et, err := ParseClock(d, end)
	if err != nil {
		return SlotKey{}, err
	}
	return SlotKey{ProviderID: providerID, Date: d, StartTime: st, EndTime: et}, nil
}

func truncateDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
