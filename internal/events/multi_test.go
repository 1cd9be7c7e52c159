package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	got []Event
	err error
}

func (c *capturePublisher) Publish(_ context.Context, ev Event) error {
	c.got = append(c.got, ev)
	return c.err
}

func TestMulti_PublishesToAll(t *testing.T) {
	a, b := &capturePublisher{}, &capturePublisher{}
	pub := NewMulti(a, nil, b)

	ev := Event{ID: uuid.New(), Type: TypeHoldCreated, SlotID: uuid.New()}
	require.NoError(t, pub.Publish(context.Background(), ev))

	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
	assert.Equal(t, ev, a.got[0])
	assert.Equal(t, ev, b.got[0])
}

func TestMulti_JoinsErrors(t *testing.T) {
	errA := errors.New("redis down")
	errB := errors.New("queue closed")
	a := &capturePublisher{err: errA}
	ok := &capturePublisher{}
	b := &capturePublisher{err: errB}

	err := NewMulti(a, ok, b).Publish(context.Background(), Event{Type: TypeHoldExpired})
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, ok.got, 1, "a failing publisher must not stop the rest")
}

func TestNop(t *testing.T) {
	assert.NoError(t, NewNop().Publish(context.Background(), Event{}))
	assert.NoError(t, NewMulti().Publish(context.Background(), Event{}))
}
