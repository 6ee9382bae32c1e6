package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepBatch    = 500
	maxBatchesPerSweep   = 50
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_idempotency_sweep_runs_total",
		Help: "Idempotency key sweeps by result.",
	}, []string{"result"})
	sweptKeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_idempotency_swept_keys_total",
		Help: "Expired checkout idempotency keys removed by the sweeper.",
	})
	lastSweptKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_idempotency_last_sweep_keys",
		Help: "Keys removed by the most recent sweep.",
	})
)

// SelfExpiring реализуют хранилища, которые сами удаляют ключи по TTL (Redis).
type SelfExpiring interface {
	ExpiresNatively() bool
}

// Sweep — итог одного прохода очистки.
type Sweep struct {
	Deleted int
	Batches int
	// Truncated — проход упёрся в maxBatchesPerSweep, остаток уйдёт в следующий цикл.
	Truncated bool
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом к хранилищу.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// CleanupWorker удаляет ключи идемпотентности чекаута, у которых истёк TTL.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewCleanupWorker(repo domain.IdempotencyRepository, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup"),
		interval:  defaultSweepInterval,
		batchSize: defaultSweepBatch,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run чистит хранилище сразу и затем раз в interval, пока ctx не отменён.
// Для хранилищ с собственным TTL возвращается сразу.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: repo is nil")
		return
	}
	if se, ok := w.repo.(SelfExpiring); ok && se.ExpiresNatively() {
		w.logger.Debug("idempotency keys expire in storage, sweeper is not needed")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runSweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runSweep(ctx context.Context) {
	sweep, err := w.SweepOnce(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		sweepRuns.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", sweep.Deleted).Warn("idempotency sweep failed")
		return
	}

	sweepRuns.WithLabelValues("ok").Inc()
	lastSweptKeys.Set(float64(sweep.Deleted))
	if sweep.Truncated {
		w.logger.WithField("deleted", sweep.Deleted).Warn("idempotency sweep hit batch limit, backlog remains")
	} else if sweep.Deleted > 0 {
		w.logger.WithField("deleted", sweep.Deleted).Info("expired idempotency keys removed")
	}
}

// SweepOnce удаляет ключи с истёкшим на текущий момент TTL порциями batchSize,
// пока хранилище отдаёт полные порции, но не больше maxBatchesPerSweep за проход.
func (w *CleanupWorker) SweepOnce(ctx context.Context) (Sweep, error) {
	var sweep Sweep
	cutoff := w.now()

	for sweep.Batches < maxBatchesPerSweep {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, cutoff, w.batchSize)
		if err != nil {
			return sweep, err
		}
		sweep.Batches++
		sweep.Deleted += deleted
		sweptKeys.Add(float64(deleted))

		if deleted < w.batchSize {
			return sweep, nil
		}
	}
	sweep.Truncated = true
	return sweep, nil
}
