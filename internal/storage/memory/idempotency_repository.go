package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const fallbackKeyTTL = 24 * time.Hour

// idempotencyRepository хранит ключи чекаута в map. Истёкший ключ невидим для
// Get и CreateProcessing ещё до того, как его удалит воркер очистки.
type idempotencyRepository struct {
	mu   sync.RWMutex
	keys map[string]domain.IdempotencyRecord
	now  func() time.Time
}

func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepository{
		keys: make(map[string]domain.IdempotencyRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(fallbackKeyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.live(key, now); ok {
		if held.RequestHash != requestHash {
			return copyRecord(held), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(held), domain.ErrIdempotencyKeyAlreadyExists
	}

	rec := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.keys[key] = rec
	return copyRecord(rec), nil
}

func (r *idempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.live(key, r.now())
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(rec), nil
}

func (r *idempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit ключей с TTL не позже before, начиная с самых старых.
func (r *idempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.IdempotencyRecord
	for _, rec := range r.keys {
		if rec.ExpiredAt(before) {
			expired = append(expired, rec)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int { return a.TTLAt.Compare(b.TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, rec := range expired {
		delete(r.keys, rec.Key)
	}
	return len(expired), nil
}

func (r *idempotencyRepository) finish(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.keys[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	rec.Status = status
	rec.ResponseBody = slices.Clone(responseBody)
	rec.HTTPStatus = httpStatus
	rec.UpdatedAt = r.now()
	r.keys[key] = rec
	return nil
}

// live возвращает запись, если она есть и её TTL ещё не истёк. Вызывается под mu.
func (r *idempotencyRepository) live(key string, now time.Time) (domain.IdempotencyRecord, bool) {
	rec, ok := r.keys[key]
	if !ok || rec.ExpiredAt(now) {
		return domain.IdempotencyRecord{}, false
	}
	return rec, true
}

func copyRecord(rec domain.IdempotencyRecord) domain.IdempotencyRecord {
	rec.ResponseBody = slices.Clone(rec.ResponseBody)
	return rec
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
