package app

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerGroup_StopsInReverseOrder(t *testing.T) {
	group := newWorkerGroup(log.WithField("test", "workers"))

	var (
		mu      sync.Mutex
		stopped []string
	)
	for _, name := range []string{"outbox", "idempotency-cleanup"} {
		started := make(chan struct{})
		group.start(context.Background(), name, func(ctx context.Context) {
			close(started)
			<-ctx.Done()
			mu.Lock()
			stopped = append(stopped, name)
			mu.Unlock()
		})
		<-started
	}

	assert.Empty(t, group.stop(time.Second))
	assert.Equal(t, []string{"idempotency-cleanup", "outbox"}, stopped)

	assert.Empty(t, group.stop(time.Second), "second stop is a no-op")
}

func TestWorkerGroup_ReportsStuckWorker(t *testing.T) {
	group := newWorkerGroup(log.WithField("test", "workers"))
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	group.start(context.Background(), "stuck", func(context.Context) { <-release })

	require.Equal(t, []string{"stuck"}, group.stop(20*time.Millisecond))
}
