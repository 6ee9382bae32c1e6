package idempotency

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/storage/memory"
)

func TestGuard_ProceedThenReplay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository())
	body := []byte(`{"items":[{"productId":"P1","variantId":"V1","quantity":2}]}`)

	first, err := guard.Begin(ctx, "buyer-1", "key-1", "POST /orders/checkout", body)
	require.NoError(t, err)
	require.Equal(t, ActionProceed, first.Action)
	assert.Equal(t, "buyer-1:key-1", first.Key)

	inFlight, err := guard.Begin(ctx, "buyer-1", "key-1", "POST /orders/checkout", body)
	require.NoError(t, err)
	assert.Equal(t, ActionInFlight, inFlight.Action)

	guard.Complete(ctx, first.Key, 201, []byte(`{"order":{"id":"o-1"}}`))

	replay, err := guard.Begin(ctx, "buyer-1", "key-1", "POST /orders/checkout", body)
	require.NoError(t, err)
	assert.Equal(t, ActionReplay, replay.Action)
	assert.Equal(t, 201, replay.HTTPStatus)
	assert.JSONEq(t, `{"order":{"id":"o-1"}}`, string(replay.Body))
}

func TestGuard_MismatchAndScopes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository())

	_, err := guard.Begin(ctx, "buyer-1", "key-1", "POST /orders/checkout", []byte(`{"a":1}`))
	require.NoError(t, err)

	mismatch, err := guard.Begin(ctx, "buyer-1", "key-1", "POST /orders/checkout", []byte(`{"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, ActionMismatch, mismatch.Action)

	other, err := guard.Begin(ctx, "buyer-2", "key-1", "POST /orders/checkout", []byte(`{"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, ActionProceed, other.Action)
}

func TestGuard_FailedResponseIsReplayed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo)

	d, err := guard.Begin(ctx, "buyer-1", "key-1", "POST /orders/checkout", nil)
	require.NoError(t, err)
	guard.Complete(ctx, d.Key, 502, []byte(`{"error":{"kind":"payment_gateway"}}`))

	rec, err := repo.Get(ctx, d.Key)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, rec.Status)

	replay, err := guard.Begin(ctx, "buyer-1", "key-1", "POST /orders/checkout", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionReplay, replay.Action)
	assert.Equal(t, 502, replay.HTTPStatus)
}

func TestGuard_EmptyKey(t *testing.T) {
	t.Parallel()

	_, err := NewGuard(memory.NewIdempotencyRepository()).Begin(context.Background(), "buyer-1", " ", "route", nil)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestGuard_RepositoryError(t *testing.T) {
	t.Parallel()

	guard := NewGuard(&stubCleanupRepo{createErr: errors.New("redis down")})
	_, err := guard.Begin(context.Background(), "buyer-1", "key-1", "route", nil)
	require.ErrorContains(t, err, "redis down")
}

func TestRequestHash_DependsOnRoute(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, RequestHash("POST /a", []byte("x")), RequestHash("POST /b", []byte("x")))
	assert.Equal(t, RequestHash("POST /a", []byte("x")), RequestHash("POST /a", []byte("x")))
	assert.Len(t, RequestHash("", nil), 64)
}
