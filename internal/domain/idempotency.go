package domain

import (
	"errors"
	"strings"
	"time"
)

// IdempotencyStatus — стадия обработки запроса чекаута с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed — запрос завершился ошибкой; ответ тоже воспроизводится.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord — сохранённый результат запроса под ключом покупателя.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Finished сообщает, что ответ сохранён и его можно отдать повторно.
func (r IdempotencyRecord) Finished() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// ExpiredAt сообщает, что TTL записи истёк к моменту now.
func (r IdempotencyRecord) ExpiredAt(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// ScopedIdempotencyKey привязывает клиентский ключ к покупателю, чтобы разные
// покупатели с одинаковым заголовком не видели ответы друг друга.
func ScopedIdempotencyKey(buyerID, key string) string {
	return strings.TrimSpace(buyerID) + ":" + strings.TrimSpace(key)
}

var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — ключа нет или он удалён по TTL.
	ErrIdempotencyKeyNotFound      = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ пришёл с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with a different request")
)

// IsIdempotencyConflict сообщает, что ключ уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
