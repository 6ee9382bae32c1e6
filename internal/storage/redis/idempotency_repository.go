// Package redis хранит ключи идемпотентности в Redis с нативным TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const (
	keyPrefix  = "idempotency:"
	defaultTTL = 24 * time.Hour
)

type record struct {
	RequestHash  string    `json:"request_hash"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IdempotencyRepository реализует domain.IdempotencyRepository поверх Redis.
// Просроченные ключи удаляет сам Redis, поэтому DeleteExpired ничего не делает.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	now    func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх готового клиента.
func NewIdempotencyRepository(client goredis.UniversalClient) *IdempotencyRepository {
	return &IdempotencyRepository{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping проверяет доступность Redis для readiness-проверок.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}
	ttl := ttlAt.Sub(now)
	if ttl <= 0 {
		return domain.IdempotencyRecord{}, errors.New("idempotency ttl is already in the past")
	}

	rec := record{
		RequestHash: requestHash,
		Status:      string(domain.IdempotencyStatusProcessing),
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record failed: %w", err)
	}

	created, err := r.client.SetNX(ctx, redisKey(key), raw, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("redis setnx failed: %w", err)
	}
	if created {
		return rec.toDomain(key), nil
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			// Ключ истёк между SETNX и GET: клиент может повторить запрос.
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		return domain.IdempotencyRecord{}, err
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	rec, err := r.load(ctx, r.client, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return rec.toDomain(key), nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired всегда возвращает 0: ключи истекают через EXPIRE.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// ExpiresNatively сообщает воркеру очистки, что ключи истекают в Redis.
func (r *IdempotencyRepository) ExpiresNatively() bool {
	return true
}

func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	rk := redisKey(key)
	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		rec, err := r.load(ctx, tx, key)
		if err != nil {
			return err
		}

		rec.Status = string(status)
		rec.ResponseBody = append([]byte(nil), responseBody...)
		rec.HTTPStatus = httpStatus
		rec.UpdatedAt = r.now()

		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal idempotency record failed: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SetArgs(ctx, rk, raw, goredis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}, rk)
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("idempotency key %q changed concurrently: %w", key, err)
	}
	return err
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (r *IdempotencyRepository) load(ctx context.Context, c getter, key string) (record, error) {
	data, err := c.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return record{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return record{}, fmt.Errorf("redis get failed: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("unmarshal idempotency record failed: %w", err)
	}
	return rec, nil
}

func (rec record) toDomain(key string) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          key,
		RequestHash:  rec.RequestHash,
		ResponseBody: append([]byte(nil), rec.ResponseBody...),
		HTTPStatus:   rec.HTTPStatus,
		Status:       domain.IdempotencyStatus(rec.Status),
		TTLAt:        rec.TTLAt,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func redisKey(key string) string {
	return keyPrefix + key
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
