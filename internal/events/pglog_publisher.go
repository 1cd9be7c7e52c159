package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgLogPublisher appends events to the event_logs table.
type PgLogPublisher struct {
	pool *pgxpool.Pool
}

func NewPgLogPublisher(pool *pgxpool.Pool) *PgLogPublisher {
	return &PgLogPublisher{pool: pool}
}

func (p *PgLogPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.Type, ev.SlotID, payload, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
