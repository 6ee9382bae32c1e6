package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/storage/memory"
)

type stubOutboxRepo struct {
	mu        sync.Mutex
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
	pullErr   error
}

func (s *stubOutboxRepo) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pullErr != nil {
		return nil, s.pullErr
	}
	n := min(limit, len(s.pending))
	return append([]domain.OutboxMessage(nil), s.pending[:n]...), nil
}

func (s *stubOutboxRepo) Stats(context.Context) (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.OutboxStats{PendingCount: len(s.pending)}, nil
}

func (s *stubOutboxRepo) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

// stubPublisher возвращает ошибки из errs по очереди, затем err.
type stubPublisher struct {
	mu    sync.Mutex
	errs  []error
	err   error
	calls int
	sent  []domain.OutboxMessage
}

func (s *stubPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	} else if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

var (
	_ domain.OutboxRepository = (*stubOutboxRepo)(nil)
	_ domain.OutboxPublisher  = (*stubPublisher)(nil)
)

func couponIssued(id string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateCoupon,
		AggregateID:   "ORDER-1A2B3C4D",
		EventType:     domain.EventCouponIssued,
		Payload:       []byte(`{"code":"ORDER-1A2B3C4D"}`),
	}
}

func TestWorker_ProcessOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		event         domain.OutboxMessage
		publisher     *stubPublisher
		wantCalls     int
		wantBatch     Batch
		wantDLQ       bool
		wantDLQReason string
	}{
		{
			name:      "sent first time",
			event:     couponIssued("msg-1"),
			publisher: &stubPublisher{},
			wantCalls: 1,
			wantBatch: Batch{Sent: 1},
		},
		{
			name:      "sent after transient errors",
			event:     couponIssued("msg-2"),
			publisher: &stubPublisher{errs: []error{errors.New("broker timeout"), errors.New("broker timeout")}},
			wantCalls: 3,
			wantBatch: Batch{Sent: 1},
		},
		{
			name:          "retries exhausted",
			event:         couponIssued("msg-3"),
			publisher:     &stubPublisher{err: errors.New("broker down")},
			wantCalls:     3,
			wantBatch:     Batch{Failed: 1},
			wantDLQ:       true,
			wantDLQReason: "broker down",
		},
		{
			name:          "rejected by broker is not retried",
			event:         couponIssued("msg-4"),
			publisher:     &stubPublisher{err: domain.ErrEventRejected},
			wantCalls:     1,
			wantBatch:     Batch{Failed: 1},
			wantDLQ:       true,
			wantDLQReason: domain.ErrEventRejected.Error(),
		},
		{
			name: "malformed payload skips publisher",
			event: domain.OutboxMessage{
				ID:            "msg-5",
				AggregateType: domain.AggregateOrder,
				AggregateID:   "order-5",
				EventType:     domain.EventOrderCreated,
				Payload:       []byte(`{"order_id":`),
			},
			publisher:     &stubPublisher{},
			wantCalls:     0,
			wantBatch:     Batch{Failed: 1},
			wantDLQ:       true,
			wantDLQReason: errMalformedPayload.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &stubOutboxRepo{pending: []domain.OutboxMessage{tt.event}}
			dlq := &stubPublisher{}
			worker := NewWorker(repo, tt.publisher, WithDLQPublisher(dlq), WithRetryBaseDelay(0), WithMaxAttempts(3))

			batch := worker.ProcessOnce(context.Background())

			require.Equal(t, tt.wantBatch, batch)
			require.Equal(t, tt.wantCalls, tt.publisher.calls)
			if tt.wantBatch.Sent == 1 {
				require.Equal(t, []string{tt.event.ID}, repo.sentIDs)
				require.Empty(t, repo.failedIDs)
			} else {
				require.Equal(t, []string{tt.event.ID}, repo.failedIDs)
				require.Empty(t, repo.sentIDs)
			}

			if !tt.wantDLQ {
				require.Zero(t, dlq.calls)
				return
			}
			require.Len(t, dlq.sent, 1)

			var record deadLetterRecord
			require.NoError(t, json.Unmarshal(dlq.sent[0].Payload, &record))
			require.Equal(t, tt.event.ID, record.OutboxID)
			require.Equal(t, tt.event.EventType, record.EventType)
			require.Contains(t, record.Error, tt.wantDLQReason)
			if json.Valid(tt.event.Payload) {
				require.JSONEq(t, string(tt.event.Payload), string(record.Payload))
			} else {
				require.Equal(t, string(tt.event.Payload), record.RawPayload)
			}
		})
	}
}

func TestWorker_DeadLetterFailureStillMarksFailed(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{couponIssued("msg-6")}}
	worker := NewWorker(repo, &stubPublisher{err: errors.New("down")},
		WithDLQPublisher(&stubPublisher{err: errors.New("dlq down")}),
		WithRetryBaseDelay(0), WithMaxAttempts(1))

	batch := worker.ProcessOnce(context.Background())

	require.Equal(t, Batch{Failed: 1}, batch)
	require.Equal(t, []string{"msg-6"}, repo.failedIDs)
}

func TestWorker_PullErrorIsReported(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pullErr: errors.New("db down")}
	publisher := &stubPublisher{}

	batch := NewWorker(repo, publisher).ProcessOnce(context.Background())

	require.Equal(t, Batch{}, batch)
	require.Zero(t, publisher.calls)
}

func TestWorker_CancelledContextStopsRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{couponIssued("msg-7"), couponIssued("msg-8")}}
	publisher := &stubPublisher{err: errors.New("down")}
	worker := NewWorker(repo, publisher, WithRetryBaseDelay(time.Hour), WithMaxAttempts(5))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	batch := worker.ProcessOnce(ctx)

	require.Equal(t, Batch{}, batch)
	require.Equal(t, 1, publisher.calls)
	require.Empty(t, repo.failedIDs)
}

func TestWorker_BackoffDoublesUpToCap(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(10*time.Millisecond))
	require.Equal(t, 10*time.Millisecond, worker.backoff(1))
	require.Equal(t, 40*time.Millisecond, worker.backoff(3))
	require.Equal(t, maxRetryDelay, worker.backoff(30))

	require.Zero(t, NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(-time.Second)).backoff(2))
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_DrainsMemoryOutboxInOrder(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	ctx := context.Background()
	want := []string{domain.EventOrderCreated, domain.EventCouponRedeemed, domain.EventCouponIssued}
	err := store.WithinTransaction(ctx, func(ctx context.Context, repos domain.Repositories) error {
		for _, eventType := range want {
			if _, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{
				AggregateType: domain.AggregateOrder,
				AggregateID:   "order-1",
				EventType:     eventType,
				Payload:       []byte(`{}`),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	publisher := &stubPublisher{}
	batch := NewWorker(store.Repositories().Outbox, publisher, WithBatchSize(2)).ProcessOnce(ctx)
	require.Equal(t, Batch{Sent: 2}, batch)

	batch = NewWorker(store.Repositories().Outbox, publisher).ProcessOnce(ctx)
	require.Equal(t, Batch{Sent: 1}, batch)

	got := make([]string, 0, len(publisher.sent))
	for _, msg := range publisher.sent {
		got = append(got, msg.EventType)
	}
	require.Equal(t, want, got)

	stats, err := store.Repositories().Outbox.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}
