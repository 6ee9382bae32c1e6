package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const defaultKeyTTL = 24 * time.Hour

// Action — решение Guard по входящему запросу.
type Action int

const (
	// ActionProceed: ключ захвачен, запрос нужно выполнить и вызвать Complete.
	ActionProceed Action = iota
	// ActionReplay: запрос уже завершён, нужно вернуть сохранённый ответ.
	ActionReplay
	// ActionInFlight: запрос с этим ключом ещё выполняется.
	ActionInFlight
	// ActionMismatch: ключ переиспользован с другим телом запроса.
	ActionMismatch
)

// Decision описывает, как обработать запрос с Idempotency-Key.
type Decision struct {
	Action Action
	// Key — ключ в хранилище с учётом области (покупателя).
	Key        string
	HTTPStatus int
	Body       []byte
}

// Guard реализует протокол Idempotency-Key поверх IdempotencyRepository.
// Ответы с ошибкой тоже сохраняются и воспроизводятся: для повтора нужен новый ключ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithKeyTTL задаёт время жизни ключа.
func WithKeyTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard создаёт Guard.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    defaultKeyTTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithField("component", "idempotency-guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Begin пытается захватить ключ. scope изолирует ключи разных покупателей,
// route и body входят в хеш запроса.
func (g *Guard) Begin(ctx context.Context, scope, key, route string, body []byte) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Decision{}, domain.ErrIdempotencyKeyRequired
	}
	storeKey := domain.ScopedIdempotencyKey(scope, key)

	record, err := g.repo.CreateProcessing(ctx, storeKey, RequestHash(route, body), g.now().Add(g.ttl))
	switch {
	case err == nil:
		return Decision{Action: ActionProceed, Key: storeKey}, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Decision{Action: ActionMismatch, Key: storeKey}, nil
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Finished() {
			return Decision{Action: ActionInFlight, Key: storeKey}, nil
		}
		return Decision{
			Action:     ActionReplay,
			Key:        storeKey,
			HTTPStatus: record.HTTPStatus,
			Body:       record.ResponseBody,
		}, nil
	default:
		return Decision{}, fmt.Errorf("create idempotency record: %w", err)
	}
}

// Complete сохраняет ответ: статус < 400 помечается done, остальные failed.
// Ошибка сохранения только логируется: ответ клиенту уже сформирован.
func (g *Guard) Complete(ctx context.Context, storeKey string, httpStatus int, body []byte) {
	var err error
	if httpStatus < 400 {
		err = g.repo.MarkDone(ctx, storeKey, body, httpStatus)
	} else {
		err = g.repo.MarkFailed(ctx, storeKey, body, httpStatus)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", storeKey).Warn("failed to store idempotent response")
	}
}

// RequestHash вычисляет sha256 от маршрута и тела запроса.
func RequestHash(route string, body []byte) string {
	payload := make([]byte, 0, len(route)+1+len(body))
	payload = append(payload, route...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
