package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-booking-engine/internal/events"
	"github.com/hackgods/slot-booking-engine/internal/testutil"
)

func sampleEvent() events.Event {
	start := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	return events.Event{
		ID:          uuid.New(),
		Type:        events.TypeBookingConfirmed,
		SlotID:      uuid.New(),
		ProviderID:  "D1",
		HolderID:    "P1",
		Status:      "BOOKED",
		BookedCount: 1,
		MaxCapacity: 1,
		StartTime:   start,
		EndTime:     start.Add(30 * time.Minute),
		OccurredAt:  start.Add(-time.Hour),
	}
}

func TestRedisPublisher(t *testing.T) {
	rdb := testutil.NewTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := "slot-events-test-" + uuid.NewString()
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ev := sampleEvent()
	require.NoError(t, events.NewRedisPublisher(rdb, channel).Publish(ctx, ev))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, ev.SlotID, got.SlotID)
	assert.Equal(t, "P1", got.HolderID)
	assert.True(t, ev.StartTime.Equal(got.StartTime))
}

func TestPgLogPublisher(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	ev := sampleEvent()
	require.NoError(t, events.NewPgLogPublisher(pool).Publish(ctx, ev))

	var (
		eventType string
		slotID    uuid.UUID
		payload   []byte
	)
	err := pool.QueryRow(ctx, `SELECT event_type, slot_id, payload FROM event_logs WHERE slot_id = $1`, ev.SlotID).
		Scan(&eventType, &slotID, &payload)
	require.NoError(t, err)
	assert.Equal(t, events.TypeBookingConfirmed, eventType)
	assert.Equal(t, ev.SlotID, slotID)

	var got events.Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "D1", got.ProviderID)
}
