package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository stores one document per slot. Conditional writes filter on
// {_id, version}, which is the document-store form of the version check.
type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection("slots")}
}

type reservationDocument struct {
	ID              string    `bson:"id"`
	HolderID        string    `bson:"holder_id"`
	ReservedAt      time.Time `bson:"reserved_at"`
	ExpiresAt       time.Time `bson:"expires_at"`
	EvictedHolderID string    `bson:"evicted_holder_id,omitempty"`
}

type slotDocument struct {
	ID          string               `bson:"_id"`
	ProviderID  string               `bson:"provider_id"`
	Date        time.Time            `bson:"slot_date"`
	StartTime   time.Time            `bson:"start_time"`
	EndTime     time.Time            `bson:"end_time"`
	MaxCapacity int                  `bson:"max_capacity"`
	BookedCount int                  `bson:"booked_count"`
	Status      string               `bson:"status"`
	Reservation *reservationDocument `bson:"reservation,omitempty"`
	Version     int64                `bson:"version"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

func toDocument(s Slot) slotDocument {
	doc := slotDocument{
		ID:          s.ID.String(),
		ProviderID:  s.ProviderID,
		Date:        truncateDate(s.Date),
		StartTime:   s.StartTime.UTC(),
		EndTime:     s.EndTime.UTC(),
		MaxCapacity: s.MaxCapacity,
		BookedCount: s.BookedCount,
		Status:      string(s.Status),
		Version:     s.Version,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if r := s.Reservation; r != nil {
		doc.Reservation = &reservationDocument{
			ID:              r.ID.String(),
			HolderID:        r.HolderID,
			ReservedAt:      r.ReservedAt,
			ExpiresAt:       r.ExpiresAt,
			EvictedHolderID: r.EvictedHolderID,
		}
	}
	return doc
}

func fromDocument(doc slotDocument) (*Slot, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("decode slot id %q: %w", doc.ID, err)
	}
	s := &Slot{
		ID:          id,
		ProviderID:  doc.ProviderID,
		Date:        truncateDate(doc.Date),
		StartTime:   doc.StartTime.UTC(),
		EndTime:     doc.EndTime.UTC(),
		MaxCapacity: doc.MaxCapacity,
		BookedCount: doc.BookedCount,
		Status:      SlotStatus(doc.Status),
		Version:     doc.Version,
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
	if r := doc.Reservation; r != nil {
		rid, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("decode reservation id %q: %w", r.ID, err)
		}
		s.Reservation = &Reservation{
			ID:              rid,
			HolderID:        r.HolderID,
			ReservedAt:      r.ReservedAt.UTC(),
			ExpiresAt:       r.ExpiresAt.UTC(),
			EvictedHolderID: r.EvictedHolderID,
		}
	}
	return s, nil
}

// EnsureIndexes creates the natural-key unique index and the sweeper index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "provider_id", Value: 1},
				{Key: "slot_date", Value: 1},
				{Key: "start_time", Value: 1},
				{Key: "end_time", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("slots_natural_key"),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "reservation.expires_at", Value: 1}},
			Options: options.Index().SetName("slots_reserved_expiry"),
		},
	})
	if err != nil {
		return fmt.Errorf("create slot indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) decodeAll(ctx context.Context, cur *mongo.Cursor) ([]Slot, error) {
	defer cur.Close(ctx)

	var result []Slot
	for cur.Next(ctx) {
		var doc slotDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode slot: %w", err)
		}
		s, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*Slot, error) {
	var doc slotDocument
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("find slot: %w", err)
	}
	return fromDocument(doc)
}

func (r *MongoRepository) CreateSlot(ctx context.Context, s Slot) (*Slot, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.Version = 1
	s.CreatedAt = now
	s.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, toDocument(s)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateSlot
		}
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return &s, nil
}

func (r *MongoRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *MongoRepository) GetSlotByKey(ctx context.Context, key SlotKey) (*Slot, error) {
	return r.findOne(ctx, bson.M{
		"provider_id": key.ProviderID,
		"slot_date":   truncateDate(key.Date),
		"start_time":  key.StartTime.UTC(),
		"end_time":    key.EndTime.UTC(),
	})
}

func (r *MongoRepository) FindSlots(ctx context.Context, providerID string, dr DateRange) ([]Slot, error) {
	filter := bson.M{
		"provider_id": providerID,
		"slot_date": bson.M{
			"$gte": truncateDate(dr.From),
			"$lte": truncateDate(dr.To),
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "slot_date", Value: 1}, {Key: "start_time", Value: 1}})

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find slots: %w", err)
	}
	return r.decodeAll(ctx, cur)
}

func (r *MongoRepository) FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Slot, error) {
	if limit <= 0 {
		limit = 500
	}
	filter := bson.M{
		"status":                 string(StatusReserved),
		"reservation.expires_at": bson.M{"$lt": now},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "reservation.expires_at", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find expired holds: %w", err)
	}
	return r.decodeAll(ctx, cur)
}

func (r *MongoRepository) TryTransition(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (*Slot, error) {
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

	next.Version = expectedVersion + 1
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()

	res, err := r.coll.ReplaceOne(ctx,
		bson.M{"_id": id.String(), "version": expectedVersion},
		toDocument(next),
	)
	if err != nil {
		return nil, fmt.Errorf("replace slot: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrVersionConflict
	}
	return &next, nil
}

func (r *MongoRepository) DeleteSlot(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String(), "version": expectedVersion})
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if res.DeletedCount == 0 {
		if _, err := r.GetSlot(ctx, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}
