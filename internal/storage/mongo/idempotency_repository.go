package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

type idempotencyDoc struct {
	Key          string    `bson:"_id"`
	RequestHash  string    `bson:"requestHash"`
	ResponseBody []byte    `bson:"responseBody,omitempty"`
	HTTPStatus   int       `bson:"httpStatus"`
	Status       string    `bson:"status"`
	TTLAt        time.Time `bson:"ttlAt"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (d idempotencyDoc) toDomain() domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          d.Key,
		RequestHash:  d.RequestHash,
		ResponseBody: append([]byte(nil), d.ResponseBody...),
		HTTPStatus:   d.HTTPStatus,
		Status:       domain.IdempotencyStatus(d.Status),
		TTLAt:        d.TTLAt.UTC(),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

type idempotencyRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewIdempotencyRepository создаёт хранилище ключей идемпотентности.
// TTL-индекс по ttlAt удаляет записи в фоне, DeleteExpired дочищает остаток.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{
		coll: store.db.Collection(collIdempotency),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}
	doc := idempotencyDoc{
		Key:         key,
		RequestHash: requestHash,
		Status:      string(domain.IdempotencyStatusProcessing),
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Вставка либо замена просроченной записи, которую ещё не удалил TTL-монитор.
	res, err := r.coll.ReplaceOne(ctx,
		bson.M{"_id": key, "ttlAt": bson.M{"$lte": now}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err == nil && (res.UpsertedCount > 0 || res.ModifiedCount > 0) {
		return doc.toDomain(), nil
	}
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return domain.IdempotencyRecord{}, fmt.Errorf("insert idempotency key: %w", err)
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		return domain.IdempotencyRecord{}, err
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc idempotencyDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": key, "ttlAt": bson.M{"$gt": r.now()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if before.IsZero() {
		before = r.now()
	}
	filter := bson.M{"ttlAt": bson.M{"$lte": before.UTC()}}

	if limit > 0 {
		opts := options.Find().SetLimit(int64(limit)).SetProjection(bson.M{"_id": 1})
		cur, err := r.coll.Find(ctx, filter, opts)
		if err != nil {
			return 0, fmt.Errorf("find expired idempotency keys: %w", err)
		}
		var ids []struct {
			Key string `bson:"_id"`
		}
		if err := cur.All(ctx, &ids); err != nil {
			return 0, fmt.Errorf("decode expired idempotency keys: %w", err)
		}
		if len(ids) == 0 {
			return 0, nil
		}
		keys := make(bson.A, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, id.Key)
		}
		filter = bson.M{"_id": bson.M{"$in": keys}, "ttlAt": bson.M{"$lte": before.UTC()}}
	}

	res, err := r.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (r *idempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{
			"status":       string(status),
			"responseBody": append([]byte(nil), responseBody...),
			"httpStatus":   httpStatus,
			"updatedAt":    r.now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("mark idempotency key as %s: %w", status, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
