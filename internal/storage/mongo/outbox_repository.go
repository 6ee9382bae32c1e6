package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

type outboxDoc struct {
	ID            string    `bson:"_id"`
	AggregateType string    `bson:"aggregateType"`
	AggregateID   string    `bson:"aggregateId"`
	EventType     string    `bson:"eventType"`
	Payload       []byte    `bson:"payload"`
	Status        string    `bson:"status"`
	AttemptCount  int       `bson:"attemptCount"`
	// Seq упорядочивает сообщения с одинаковым createdAt (BSON date хранит миллисекунды).
	Seq       int64     `bson:"seq"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type outboxRepository struct {
	coll *mongo.Collection
}

// NewOutboxRepository создаёт transactional outbox поверх коллекции outbox_messages.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{coll: store.db.Collection(collOutbox)}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	doc := outboxDoc{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       append([]byte(nil), msg.Payload...),
		Status:        outboxStatusPending,
		Seq:           now.UnixNano(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return msg, nil
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, bson.M{"status": outboxStatusPending}, opts)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	var docs []outboxDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode outbox messages: %w", err)
	}

	result := make([]domain.OutboxMessage, 0, len(docs))
	for _, d := range docs {
		result = append(result, domain.OutboxMessage{
			ID:            d.ID,
			AggregateType: d.AggregateType,
			AggregateID:   d.AggregateID,
			EventType:     d.EventType,
			Payload:       d.Payload,
		})
	}
	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"status": outboxStatusPending}
	count, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats count failed: %w", err)
	}

	stats := domain.OutboxStats{PendingCount: int(count)}
	if count == 0 {
		return stats, nil
	}

	var oldest outboxDoc
	err = r.coll.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})).Decode(&oldest)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return domain.OutboxStats{}, fmt.Errorf("outbox stats oldest failed: %w", err)
	default:
		stats.OldestPendingAt = oldest.CreatedAt.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, outboxStatusSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, outboxStatusFailed)
}

func (r *outboxRepository) markStatus(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()},
			"$inc": bson.M{"attemptCount": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
