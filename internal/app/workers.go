package app

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const workerStopTimeout = 5 * time.Second

type backgroundWorker struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// workerGroup запускает фоновые циклы сервиса и останавливает их в обратном порядке.
type workerGroup struct {
	mu      sync.Mutex
	workers []backgroundWorker
	logger  *log.Entry
}

func newWorkerGroup(logger *log.Entry) *workerGroup {
	return &workerGroup{logger: logger}
}

// start запускает run в отдельной горутине с собственным ctx, производным от parent.
func (g *workerGroup) start(parent context.Context, name string, run func(context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	w := backgroundWorker{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		run(ctx)
	}()

	g.mu.Lock()
	g.workers = append(g.workers, w)
	g.mu.Unlock()
	g.logger.WithField("worker", name).Debug("worker started")
}

// stop отменяет все worker'ы и ждёт каждого не дольше timeout.
// Возвращает имена тех, кто не успел завершиться.
func (g *workerGroup) stop(timeout time.Duration) []string {
	g.mu.Lock()
	workers := g.workers
	g.workers = nil
	g.mu.Unlock()

	var stuck []string
	for i := len(workers) - 1; i >= 0; i-- {
		w := workers[i]
		w.cancel()
		select {
		case <-w.done:
			g.logger.WithField("worker", w.name).Info("worker stopped")
		case <-time.After(timeout):
			g.logger.WithField("worker", w.name).Warn("worker did not stop in time")
			stuck = append(stuck, w.name)
		}
	}
	return stuck
}
