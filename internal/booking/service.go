package booking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking-engine/internal/clock"
	"github.com/hackgods/slot-booking-engine/internal/events"
)

const (
	defaultHoldDuration = 10 * time.Minute
	defaultMaxHold      = 30 * time.Minute
	defaultCASAttempts  = 3
	defaultCASBackoff   = 20 * time.Millisecond
	defaultSweepBatch   = 500
	defaultMaxQueryDays = 62
)

type Service struct {
	repo   Repository
	pub    events.Publisher
	clock  clock.Clock
	log    *zap.Logger
	strict bool

	defaultHold  time.Duration
	maxHold      time.Duration
	casAttempts  int
	casBackoff   time.Duration
	sweepBatch   int
	maxQueryDays int
}

type Option func(*Service)

// WithHoldDurations sets the hold used when the caller gives none and the
// longest hold a caller may ask for.
func WithHoldDurations(def, max time.Duration) Option {
	return func(s *Service) {
		if def > 0 {
			s.defaultHold = def
		}
		if max > 0 {
			s.maxHold = max
		}
	}
}

// WithCASRetry bounds how many compare-and-swap attempts an operation makes
// before reporting a conflict, and the initial backoff between them.
func WithCASRetry(attempts int, initial time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.casAttempts = attempts
		}
		if initial > 0 {
			s.casBackoff = initial
		}
	}
}

// WithStrictExpiredConfirm controls whether a holder may still confirm a
// lapsed hold that nobody else has claimed. Strict (the default) refuses.
func WithStrictExpiredConfirm(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

func WithSweepBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func NewService(repo Repository, pub events.Publisher, clk clock.Clock, opts ...Option) *Service {
	if pub == nil {
		pub = events.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	s := &Service{
		repo:         repo,
		pub:          pub,
		clock:        clk,
		log:          zap.NewNop(),
		strict:       true,
		defaultHold:  defaultHoldDuration,
		maxHold:      defaultMaxHold,
		casAttempts:  defaultCASAttempts,
		casBackoff:   defaultCASBackoff,
		sweepBatch:   defaultSweepBatch,
		maxQueryDays: defaultMaxQueryDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) DefaultHoldDuration() time.Duration {
	return s.defaultHold
}

// step computes the next slot state. ok=false means there is nothing to write.
type step func(cur Slot, now time.Time) (next Slot, ok bool, err error)

// transition runs read -> step -> TryTransition, retrying version conflicts
// with exponential backoff. It returns the written slot, or on a domain error
// the slot as last read.
func (s *Service) transition(ctx context.Context, id uuid.UUID, fn step) (*Slot, bool, error) {
	var (
		result  *Slot
		changed bool
	)

	operation := func() error {
		cur, err := s.repo.GetSlot(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}

		now := s.clock.Now()
		_, ok, err := fn(*cur, now)
		if err != nil {
			result = cur
			return backoff.Permanent(err)
		}
		if !ok {
			result, changed = cur, false
			return nil
		}

		updated, err := s.repo.TryTransition(ctx, id, cur.Version, func(latest Slot) (Slot, error) {
			next, _, err := fn(latest, now)
			return next, err
		})
		if errors.Is(err, ErrVersionConflict) {
			s.log.Debug("slot version conflict, retrying",
				zap.String("slot_id", id.String()),
				zap.Int64("version", cur.Version),
			)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		result, changed = updated, true
		return nil
	}

	err := backoff.Retry(operation, s.newBackOff(ctx))
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, false, ErrSlotContended
		}
		if isDomainError(err) {
			return result, false, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("slot %s transition: %w", id, err)
	}
	return result, changed, nil
}

func (s *Service) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.casBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.5
	eb.MaxInterval = 10 * s.casBackoff
	eb.MaxElapsedTime = 0

	retries := s.casAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidArgument)
}

func (s *Service) validateHold(hold time.Duration) error {
	if hold <= 0 {
		return ErrInvalidHold
	}
	if s.maxHold > 0 && hold > s.maxHold {
		return ErrHoldTooLong
	}
	return nil
}

// Reserve places a time-limited hold on an available slot. A lapsed hold by
// someone else is evicted; a live one yields a conflict.
func (s *Service) Reserve(ctx context.Context, slotID uuid.UUID, holderID string, hold time.Duration) (*Hold, error) {
	if holderID == "" {
		return nil, ErrMissingIdentity
	}
	if err := s.validateHold(hold); err != nil {
		return nil, err
	}

	slot, _, err := s.transition(ctx, slotID, func(cur Slot, now time.Time) (Slot, bool, error) {
		next, err := applyReserve(cur, holderID, hold, now)
		return next, err == nil, err
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("slot reserved",
		zap.String("slot_id", slot.ID.String()),
		zap.String("holder_id", holderID),
		zap.Time("expires_at", slot.Reservation.ExpiresAt),
	)
	s.emit(ctx, events.TypeHoldCreated, *slot, holderID)

	return &Hold{SlotID: slot.ID, Reservation: *slot.Reservation}, nil
}

// ReserveByKey resolves the slot by provider, date and time range, then reserves it.
func (s *Service) ReserveByKey(ctx context.Context, key SlotKey, holderID string, hold time.Duration) (*Hold, error) {
	if key.ProviderID == "" {
		return nil, ErrMissingIdentity
	}
	slot, err := s.repo.GetSlotByKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}
	return s.Reserve(ctx, slot.ID, holderID, hold)
}

// Confirm turns the caller's live hold into a booking.
func (s *Service) Confirm(ctx context.Context, slotID uuid.UUID, holderID string) (*Slot, error) {
	if holderID == "" {
		return nil, ErrMissingIdentity
	}

	slot, _, err := s.transition(ctx, slotID, func(cur Slot, now time.Time) (Slot, bool, error) {
		next, err := applyConfirm(cur, holderID, now, s.strict)
		return next, err == nil, err
	})
	if err != nil {
		if errors.Is(err, ErrHoldExpired) && slot != nil {
			s.reclaimLapsedHold(ctx, *slot, holderID)
		}
		return nil, err
	}

	s.emit(ctx, events.TypeBookingConfirmed, *slot, holderID)
	return slot, nil
}

// reclaimLapsedHold clears the caller's own expired hold right away instead of
// waiting for the sweeper. Failures are ignored; the sweeper will get it.
func (s *Service) reclaimLapsedHold(ctx context.Context, slot Slot, holderID string) {
	if slot.Reservation == nil || slot.Reservation.HolderID != holderID {
		return
	}
	now := s.clock.Now()
	updated, err := s.repo.TryTransition(ctx, slot.ID, slot.Version, func(cur Slot) (Slot, error) {
		next, ok := applyExpire(cur, now)
		if !ok {
			return cur, errHoldStillLive
		}
		return next, nil
	})
	if err != nil {
		s.log.Debug("could not reclaim lapsed hold on confirm",
			zap.String("slot_id", slot.ID.String()),
			zap.Error(err),
		)
		return
	}
	s.emit(ctx, events.TypeHoldExpired, *updated, holderID)
}

var errHoldStillLive = errors.New("hold is not expired")

// Release abandons the caller's hold. Releasing a hold that is already gone
// is a no-op.
func (s *Service) Release(ctx context.Context, slotID uuid.UUID, holderID string) error {
	if holderID == "" {
		return ErrMissingIdentity
	}

	slot, changed, err := s.transition(ctx, slotID, func(cur Slot, _ time.Time) (Slot, bool, error) {
		next, ok := applyRelease(cur, holderID)
		return next, ok, nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.emit(ctx, events.TypeHoldReleased, *slot, holderID)
	}
	return nil
}

// CancelBooking gives one booked unit back to the slot.
func (s *Service) CancelBooking(ctx context.Context, slotID uuid.UUID) error {
	slot, _, err := s.transition(ctx, slotID, func(cur Slot, _ time.Time) (Slot, bool, error) {
		next, err := applyCancelBooking(cur)
		return next, err == nil, err
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events.TypeBookingCancelled, *slot, "")
	return nil
}

// Complete retires a booked slot once its appointment window has begun.
func (s *Service) Complete(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	slot, _, err := s.transition(ctx, slotID, func(cur Slot, now time.Time) (Slot, bool, error) {
		next, err := applyComplete(cur, now)
		return next, err == nil, err
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.TypeSlotCompleted, *slot, "")
	return slot, nil
}

// Withdraw administratively cancels a slot from any non-completed state.
func (s *Service) Withdraw(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	slot, changed, err := s.transition(ctx, slotID, func(cur Slot, _ time.Time) (Slot, bool, error) {
		return applyWithdraw(cur)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.emit(ctx, events.TypeSlotWithdrawn, *slot, "")
	}
	return slot, nil
}

type NewSlotInput struct {
	ProviderID  string
	Date        time.Time
	StartTime   time.Time
	EndTime     time.Time
	MaxCapacity int
}

func (s *Service) CreateSlot(ctx context.Context, in NewSlotInput) (*Slot, error) {
	if in.ProviderID == "" {
		return nil, ErrMissingIdentity
	}
	if in.MaxCapacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if !in.EndTime.After(in.StartTime) {
		return nil, ErrInvalidTimeRange
	}
	date := truncateDate(in.Date)
	if !truncateDate(in.StartTime).Equal(date) {
		return nil, fmt.Errorf("%w: start time must fall on the slot date", ErrInvalidArgument)
	}

	created, err := s.repo.CreateSlot(ctx, Slot{
		ProviderID:  in.ProviderID,
		Date:        date,
		StartTime:   in.StartTime.UTC(),
		EndTime:     in.EndTime.UTC(),
		MaxCapacity: in.MaxCapacity,
		Status:      StatusAvailable,
	})
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create slot: %w", err)
	}
	return created, nil
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	slot, err := s.repo.GetSlot(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// DeleteSlot removes a slot that has no live hold and no bookings.
func (s *Service) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	operation := func() error {
		cur, err := s.repo.GetSlot(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if cur.BookedCount > 0 || cur.EffectiveStatus(s.clock.Now()) == StatusReserved {
			return backoff.Permanent(ErrSlotInUse)
		}
		err = s.repo.DeleteSlot(ctx, id, cur.Version)
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(operation, s.newBackOff(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrVersionConflict):
		return ErrSlotContended
	case isDomainError(err):
		return err
	default:
		return fmt.Errorf("delete slot: %w", err)
	}
}

// QueryAvailable lists the provider's slots that can be reserved right now.
// Lapsed holds count as available even if the sweeper has not run yet.
func (s *Service) QueryAvailable(ctx context.Context, providerID string, r DateRange) (iter.Seq[Slot], error) {
	if providerID == "" {
		return nil, ErrMissingIdentity
	}
	if !r.Valid() {
		return nil, ErrInvalidDateRange
	}
	if days := int(truncateDate(r.To).Sub(truncateDate(r.From)).Hours() / 24); days >= s.maxQueryDays {
		return nil, fmt.Errorf("%w: date range may span at most %d days", ErrInvalidArgument, s.maxQueryDays)
	}

	slots, err := s.repo.FindSlots(ctx, providerID, r)
	if err != nil {
		return nil, fmt.Errorf("find slots: %w", err)
	}
	now := s.clock.Now()

	return func(yield func(Slot) bool) {
		for _, sl := range slots {
			if sl.EffectiveStatus(now) != StatusAvailable || sl.RemainingCapacity() <= 0 || sl.Started(now) {
				continue
			}
			if sl.Status == StatusReserved {
				sl.Status = StatusAvailable
				sl.Reservation = nil
			}
			if !yield(sl) {
				return
			}
		}
	}, nil
}

// SweepExpiredHolds releases every hold that lapsed before now. Slots that
// change underneath it are skipped; the next pass or the read path covers them.
func (s *Service) SweepExpiredHolds(ctx context.Context) (int, error) {
	now := s.clock.Now()
	candidates, err := s.repo.FindExpiredHolds(ctx, now, s.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("find expired holds: %w", err)
	}

	released := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}

		var holderID string
		if c.Reservation != nil {
			holderID = c.Reservation.HolderID
		}

		updated, err := s.repo.TryTransition(ctx, c.ID, c.Version, func(cur Slot) (Slot, error) {
			next, ok := applyExpire(cur, now)
			if !ok {
				return cur, errHoldStillLive
			}
			return next, nil
		})
		switch {
		case err == nil:
			released++
			s.emit(ctx, events.TypeHoldExpired, *updated, holderID)
		case errors.Is(err, ErrVersionConflict), errors.Is(err, errHoldStillLive), errors.Is(err, ErrNotFound):
			s.log.Debug("sweeper skipped slot changed concurrently",
				zap.String("slot_id", c.ID.String()),
				zap.Error(err),
			)
		default:
			s.log.Warn("sweeper failed to release expired hold",
				zap.String("slot_id", c.ID.String()),
				zap.Error(err),
			)
		}
	}
	return released, nil
}

func (s *Service) emit(ctx context.Context, eventType string, slot Slot, holderID string) {
	ev := events.Event{
		ID:          uuid.New(),
		Type:        eventType,
		SlotID:      slot.ID,
		ProviderID:  slot.ProviderID,
		HolderID:    holderID,
		Status:      string(slot.Status),
		BookedCount: slot.BookedCount,
		MaxCapacity: slot.MaxCapacity,
		StartTime:   slot.StartTime,
		EndTime:     slot.EndTime,
		OccurredAt:  s.clock.Now(),
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish slot event",
			zap.String("event_type", eventType),
			zap.String("slot_id", slot.ID.String()),
			zap.Error(err),
		)
	}
}
