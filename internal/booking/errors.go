package booking

import "errors"

// Error kinds. Every error returned by the service that is not an
// infrastructure failure wraps exactly one of these.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExpired         = errors.New("expired")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrVersionConflict is returned by a Repository when the stored version no
// longer matches the caller's expected version.
var ErrVersionConflict = errors.New("slot version conflict")

var (
	ErrSlotNotFound      = wrapKind(ErrNotFound, "slot not found")
	ErrSlotHeld          = wrapKind(ErrConflict, "slot is held by another party")
	ErrSlotFull          = wrapKind(ErrConflict, "slot has no remaining capacity")
	ErrSlotClosed        = wrapKind(ErrConflict, "slot is cancelled or completed")
	ErrSlotContended     = wrapKind(ErrConflict, "slot is being modified concurrently, re-query availability")
	ErrNoBooking         = wrapKind(ErrConflict, "slot has no booking to cancel")
	ErrSlotInUse         = wrapKind(ErrConflict, "slot has a hold or bookings")
	ErrDuplicateSlot     = wrapKind(ErrConflict, "slot already exists for provider and time range")
	ErrHoldExpired       = wrapKind(ErrExpired, "hold has expired, reserve again")
	ErrSlotInPast        = wrapKind(ErrExpired, "slot start time has passed")
	ErrHolderMismatch    = wrapKind(ErrForbidden, "hold belongs to another party")
	ErrInvalidHold       = wrapKind(ErrInvalidArgument, "hold duration must be positive")
	ErrHoldTooLong       = wrapKind(ErrInvalidArgument, "hold duration exceeds the allowed maximum")
	ErrInvalidCapacity   = wrapKind(ErrInvalidArgument, "max capacity must be at least 1")
	ErrInvalidTimeRange  = wrapKind(ErrInvalidArgument, "end time must be after start time")
	ErrInvalidDateRange  = wrapKind(ErrInvalidArgument, "invalid date range")
	ErrMissingIdentity   = wrapKind(ErrInvalidArgument, "holder and provider ids must be set")
	ErrNotYetCompletable = wrapKind(ErrInvalidArgument, "slot cannot complete before it starts")
)

type kindError struct {
	kind error
	msg  string
}

func wrapKind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }
