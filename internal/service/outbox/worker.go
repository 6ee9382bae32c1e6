// Package outbox доставляет события чекаута и платежей из transactional outbox во внешний брокер.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

const (
	resultSent             = "sent"
	resultRetry            = "retry"
	resultFailed           = "failed"
	resultDeadLettered     = "dead_lettered"
	resultDeadLetterFailed = "dead_letter_failed"
)

var (
	publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_outbox_publish_total",
		Help: "Outbox publish outcomes by event type.",
	}, []string{"event_type", "result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// errMalformedPayload — payload не является JSON; повторять публикацию бессмысленно.
var errMalformedPayload = errors.New("outbox payload is not valid json")

// Batch — итог одного цикла опроса.
type Batch struct {
	Sent   int
	Failed int
}

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт publisher для событий, которые не удалось доставить.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации до перевода события в failed.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.maxAttempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается до maxRetryDelay.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = max(delay, 0) }
}

// Worker публикует pending-события последовательно, сохраняя порядок outbox.
// Событие, которое не удалось доставить, помечается failed и копируется в DLQ.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlq            domain.OutboxPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует один батч pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) Batch {
	var batch Batch
	if ctx.Err() != nil {
		return batch
	}
	defer w.observeBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return batch
	}

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		logger := w.logger.WithFields(log.Fields{"outbox_id": event.ID, "event_type": event.EventType})

		attempts, err := w.deliver(ctx, event)
		if err == nil {
			batch.Sent++
			publishResults.WithLabelValues(event.EventType, resultSent).Inc()
			if err := w.repo.MarkSent(ctx, event.ID); err != nil {
				logger.WithError(err).Warn("failed to mark outbox message as sent")
			}
			continue
		}
		if ctx.Err() != nil {
			break
		}

		batch.Failed++
		publishResults.WithLabelValues(event.EventType, resultFailed).Inc()
		logger.WithError(err).WithField("attempts", attempts).Error("outbox message could not be delivered")

		w.deadLetter(ctx, logger, event, err, attempts)
		if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
			logger.WithError(err).Warn("failed to mark outbox message as failed")
		}
	}
	return batch
}

// deliver публикует событие с повторами. Постоянные ошибки не повторяются.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) (int, error) {
	if !json.Valid(event.Payload) {
		return 0, errMalformedPayload
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		lastErr = w.publisher.Publish(ctx, event)
		if lastErr == nil {
			return attempt, nil
		}
		if errors.Is(lastErr, domain.ErrEventRejected) || attempt == w.maxAttempts {
			return attempt, fmt.Errorf("%w: %w", domain.ErrOutboxPublish, lastErr)
		}
		publishResults.WithLabelValues(event.EventType, resultRetry).Inc()

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(w.backoff(attempt)):
		}
	}
	return w.maxAttempts, fmt.Errorf("%w: %w", domain.ErrOutboxPublish, lastErr)
}

// backoff возвращает паузу после попытки attempt: base, 2*base, 4*base, ... но не больше maxRetryDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

// deadLetterRecord — содержимое DLQ-сообщения.
type deadLetterRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RawPayload    string          `json:"raw_payload,omitempty"`
	Error         string          `json:"error"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) deadLetter(ctx context.Context, logger *log.Entry, event domain.OutboxMessage, cause error, attempts int) {
	if w.dlq == nil {
		return
	}

	record := deadLetterRecord{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Error:         cause.Error(),
		Attempts:      attempts,
		FailedAt:      time.Now().UTC(),
	}
	if json.Valid(event.Payload) {
		record.Payload = event.Payload
	} else {
		record.RawPayload = string(event.Payload)
	}

	payload, err := json.Marshal(record)
	if err == nil {
		err = w.dlq.Publish(ctx, domain.OutboxMessage{
			ID:            event.ID,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			EventType:     event.EventType,
			Payload:       payload,
		})
	}
	if err != nil {
		publishResults.WithLabelValues(event.EventType, resultDeadLetterFailed).Inc()
		logger.WithError(err).Warn("failed to publish outbox message to dead letter queue")
		return
	}
	publishResults.WithLabelValues(event.EventType, resultDeadLettered).Inc()
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	pendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	oldestPendingAge.Set(max(time.Since(stats.OldestPendingAt).Seconds(), 0))
}
