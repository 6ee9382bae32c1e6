package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/storage/memory"
)

func TestIdempotencyRepository_CheckoutKeyLifecycle(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	key := domain.ScopedIdempotencyKey("buyer-1", "checkout-1")
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, key, "hash-1", ttl)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	assert.True(t, created.TTLAt.Equal(ttl))

	held, err := repo.CreateProcessing(ctx, key, "hash-1", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.False(t, held.Finished())

	body := []byte(`{"order_id":"o-1"}`)
	require.NoError(t, repo.MarkDone(ctx, key, body, 201))
	body[0] = 'x'

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, got.Status)
	assert.Equal(t, 201, got.HTTPStatus)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(got.ResponseBody), "stored body must not alias the caller's slice")

	_, err = repo.CreateProcessing(ctx, key, "hash-2", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_RejectsBlankInput(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "  ", "hash", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(ctx, "k", " ", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
	require.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, 500), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ExpiredKeyIsFreeBeforeCleanup(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "buyer-1:stale", "hash-old", time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)

	_, err = repo.Get(ctx, "buyer-1:stale")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	fresh, err := repo.CreateProcessing(ctx, "buyer-1:stale", "hash-new", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "hash-new", fresh.RequestHash)
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, key := range []string{"k-3", "k-1", "k-2"} {
		_, err := repo.CreateProcessing(ctx, key, "h", now.Add(-time.Duration(3-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "k-live", "h", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// k-2 истекает последним из просроченных и переживает первый проход.
	removed, err = repo.DeleteExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "k-live")
	require.NoError(t, err)
}

func TestIdempotencyRepository_ConcurrentCreateSingleWinner(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.CreateProcessing(ctx, "buyer-1:race", "h", ttl); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
