package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps slots in process memory. A single mutex serialises
// writes, which gives the same compare-and-swap semantics as the database
// backends.
type MemoryRepository struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]Slot
	keys  map[SlotKey]uuid.UUID
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slots: make(map[uuid.UUID]Slot),
		keys:  make(map[SlotKey]uuid.UUID),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func normalizeKey(k SlotKey) SlotKey {
	return SlotKey{
		ProviderID: k.ProviderID,
		Date:       truncateDate(k.Date),
		StartTime:  k.StartTime.UTC(),
		EndTime:    k.EndTime.UTC(),
	}
}

func (r *MemoryRepository) CreateSlot(_ context.Context, s Slot) (*Slot, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalizeKey(s.Key())
	if _, exists := r.keys[key]; exists {
		return nil, ErrDuplicateSlot
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if _, exists := r.slots[s.ID]; exists {
		return nil, ErrDuplicateSlot
	}

	now := r.now()
	s.Version = 1
	s.CreatedAt = now
	s.UpdatedAt = now

	r.slots[s.ID] = cloneSlot(s)
	r.keys[key] = s.ID
	return &s, nil
}

func (r *MemoryRepository) GetSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	out := cloneSlot(s)
	return &out, nil
}

func (r *MemoryRepository) GetSlotByKey(ctx context.Context, key SlotKey) (*Slot, error) {
	r.mu.RLock()
	id, ok := r.keys[normalizeKey(key)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSlotNotFound
	}
	return r.GetSlot(ctx, id)
}

func (r *MemoryRepository) FindSlots(_ context.Context, providerID string, dr DateRange) ([]Slot, error) {
	from, to := truncateDate(dr.From), truncateDate(dr.To)

	r.mu.RLock()
	var out []Slot
	for _, s := range r.slots {
		if s.ProviderID != providerID {
			continue
		}
		if s.Date.Before(from) || s.Date.After(to) {
			continue
		}
		out = append(out, cloneSlot(s))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (r *MemoryRepository) FindExpiredHolds(_ context.Context, now time.Time, limit int) ([]Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Slot
	for _, s := range r.slots {
		if s.Status != StatusReserved || s.Reservation == nil {
			continue
		}
		if !s.Reservation.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, cloneSlot(s))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) TryTransition(_ context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next, err := mutate(cloneSlot(cur))
	if err != nil {
		return nil, err
	}
	if next.ID != cur.ID || next.Key() != cur.Key() {
		return nil, fmt.Errorf("transition must not change slot identity")
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	next.Version = cur.Version + 1
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = r.now()

	r.slots[id] = cloneSlot(next)
	return &next, nil
}

func (r *MemoryRepository) DeleteSlot(_ context.Context, id uuid.UUID, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	delete(r.slots, id)
	delete(r.keys, normalizeKey(cur.Key()))
	return nil
}
