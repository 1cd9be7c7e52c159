package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const slotColumns = `id, provider_id, slot_date, start_time, end_time, max_capacity, booked_count, status,
	reservation_id, holder_id, reserved_at, expires_at, evicted_holder_id, version, created_at, updated_at`

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var (
		s               Slot
		reservationID   *uuid.UUID
		holderID        *string
		reservedAt      *time.Time
		expiresAt       *time.Time
		evictedHolderID *string
	)

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.MaxCapacity,
		&s.BookedCount,
		&s.Status,
		&reservationID,
		&holderID,
		&reservedAt,
		&expiresAt,
		&evictedHolderID,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = truncateDate(s.Date)
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()

	if reservationID != nil && holderID != nil && reservedAt != nil && expiresAt != nil {
		s.Reservation = &Reservation{
			ID:         *reservationID,
			HolderID:   *holderID,
			ReservedAt: reservedAt.UTC(),
			ExpiresAt:  expiresAt.UTC(),
		}
		if evictedHolderID != nil {
			s.Reservation.EvictedHolderID = *evictedHolderID
		}
	}

	return &s, nil
}

func scanSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// reservationArgs flattens the optional reservation into nullable columns.
func reservationArgs(r *Reservation) (id *uuid.UUID, holder *string, reservedAt, expiresAt *time.Time, evicted *string) {
	if r == nil {
		return nil, nil, nil, nil, nil
	}
	rid := r.ID
	h := r.HolderID
	ra := r.ReservedAt
	ea := r.ExpiresAt
	id, holder, reservedAt, expiresAt = &rid, &h, &ra, &ea
	if r.EvictedHolderID != "" {
		e := r.EvictedHolderID
		evicted = &e
	}
	return id, holder, reservedAt, expiresAt, evicted
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Interface methods

func (r *PgRepository) CreateSlot(ctx context.Context, s Slot) (*Slot, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	rid, holder, reservedAt, expiresAt, evicted := reservationArgs(s.Reservation)

	row := r.pool.QueryRow(ctx, `
		INSERT INTO slots (id, provider_id, slot_date, start_time, end_time, max_capacity, booked_count, status,
			reservation_id, holder_id, reserved_at, expires_at, evicted_holder_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, now(), now())
		RETURNING `+slotColumns,
		s.ID, s.ProviderID, truncateDate(s.Date), s.StartTime, s.EndTime, s.MaxCapacity, s.BookedCount, s.Status,
		rid, holder, reservedAt, expiresAt, evicted,
	)

	created, err := scanSlot(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSlot
		}
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) GetSlotByKey(ctx context.Context, key SlotKey) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND slot_date = $2
		  AND start_time = $3
		  AND end_time = $4
	`, key.ProviderID, truncateDate(key.Date), key.StartTime, key.EndTime)
	return scanSlot(row)
}

func (r *PgRepository) FindSlots(ctx context.Context, providerID string, dr DateRange) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND slot_date BETWEEN $2 AND $3
		ORDER BY slot_date, start_time
	`, providerID, truncateDate(dr.From), truncateDate(dr.To))
	if err != nil {
		return nil, fmt.Errorf("find slots: %w", err)
	}
	return scanSlots(rows)
}

func (r *PgRepository) FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Slot, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE status = 'RESERVED'
		  AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired holds: %w", err)
	}
	return scanSlots(rows)
}

// TryTransition reads the row, applies mutate in Go and writes it back with a
// conditional UPDATE on the version column. No row lock is held in between.
func (r *PgRepository) TryTransition(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (*Slot, error) {
	cur, err := r.GetSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next, err := mutate(cloneSlot(*cur))
	if err != nil {
		return nil, err
	}
	if next.ID != cur.ID {
		return nil, fmt.Errorf("transition must not change slot identity")
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	rid, holder, reservedAt, expiresAt, evicted := reservationArgs(next.Reservation)
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET booked_count = $3,
		    status = $4,
		    reservation_id = $5,
		    holder_id = $6,
		    reserved_at = $7,
		    expires_at = $8,
		    evicted_holder_id = $9,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+slotColumns,
		id, expectedVersion, next.BookedCount, next.Status, rid, holder, reservedAt, expiresAt, evicted,
	)

	updated, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("update slot: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM slots WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetSlot(ctx, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}
