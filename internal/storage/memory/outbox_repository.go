package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

type outboxRepository struct {
	sess *session
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его идентификатор.
func (r *outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	err := r.sess.write(func() (func(), error) {
		store := r.sess.store
		now := time.Now().UTC()
		store.outbox[msg.ID] = &outboxRecord{
			msg:       msg,
			status:    outboxStatusPending,
			createdAt: now,
			updatedAt: now,
		}
		store.outboxSeq = append(store.outboxSeq, msg.ID)
		return func() {
			delete(store.outbox, msg.ID)
			store.outboxSeq = store.outboxSeq[:len(store.outboxSeq)-1]
		}, nil
	})
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке постановки.
func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	r.sess.read(func() {
		for _, id := range r.sess.store.outboxSeq {
			rec := r.sess.store.outbox[id]
			if rec == nil || rec.status != outboxStatusPending {
				continue
			}
			result = append(result, rec.msg)
			if len(result) >= limit {
				break
			}
		}
	})
	return result, nil
}

// Stats возвращает размер backlog и возраст самого старого сообщения.
func (r *outboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	r.sess.read(func() {
		for _, rec := range r.sess.store.outbox {
			if rec.status != outboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.createdAt
			}
		}
	})
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusFailed)
}

func (r *outboxRepository) markStatus(id, status string) error {
	return r.sess.write(func() (func(), error) {
		record, ok := r.sess.store.outbox[id]
		if !ok {
			return nil, domain.ErrOutboxPublish
		}
		prev := *record
		record.status = status
		record.attemptCnt++
		record.updatedAt = time.Now().UTC()
		return func() { *record = prev }, nil
	})
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (s *Store) AllPending() []domain.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OutboxMessage, 0, len(s.outboxSeq))
	for _, id := range s.outboxSeq {
		if rec := s.outbox[id]; rec != nil && rec.status == outboxStatusPending {
			result = append(result, rec.msg)
		}
	}
	return result
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
