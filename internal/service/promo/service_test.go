package promo

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/storage/memory"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newService() *Service {
	return NewService(memory.NewStore().Repositories().Coupons, WithClock(func() time.Time { return now }))
}

func validRequest() CreateRequest {
	return CreateRequest{
		Code:      " spring25 ",
		Kind:      domain.CouponKindPercentage,
		Value:     decimal.NewFromInt(25),
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
}

func TestCreate(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	c, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "SPRING25", c.Code)
	assert.Equal(t, 1, c.MaxUses)
	assert.True(t, c.IsActive)
	assert.True(t, c.MinOrderAmount.IsZero())

	got, err := svc.Get(ctx, "spring25")
	require.NoError(t, err)
	assert.Equal(t, c.Code, got.Code)

	_, err = svc.Create(ctx, validRequest())
	require.ErrorIs(t, err, domain.ErrCouponCodeTaken)
	assert.Equal(t, domain.KindInvalidInput, domain.ErrorKind(err))
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		want   error
	}{
		{"short code", func(r *CreateRequest) { r.Code = "ab " }, domain.ErrCouponCodeInvalid},
		{"unknown kind", func(r *CreateRequest) { r.Kind = "bogus" }, domain.ErrCouponKindInvalid},
		{"percentage over 100", func(r *CreateRequest) { r.Value = decimal.NewFromInt(101) }, domain.ErrCouponValueInvalid},
		{"zero value", func(r *CreateRequest) { r.Value = decimal.Zero }, domain.ErrCouponValueInvalid},
		{"negative minimum", func(r *CreateRequest) { r.MinOrderAmount = decimal.NewFromInt(-1) }, domain.ErrCouponValueInvalid},
		{"past expiry", func(r *CreateRequest) { r.ExpiresAt = now.Add(-time.Hour) }, domain.ErrCouponExpiryInvalid},
		{"missing expiry", func(r *CreateRequest) { r.ExpiresAt = time.Time{} }, domain.ErrCouponExpiryInvalid},
		{"negative uses", func(r *CreateRequest) { r.MaxUses = -1 }, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := newService().Create(context.Background(), req)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, domain.KindInvalidInput, domain.ErrorKind(err))
		})
	}
}

func TestCreate_FixedAboveHundredAllowed(t *testing.T) {
	req := validRequest()
	req.Kind = "FIXED"
	req.Value = decimal.NewFromInt(500)

	c, err := newService().Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.CouponKindFixed, c.Kind)
}

func TestDeactivate(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, "Spring25"))
	c, err := svc.Get(ctx, "SPRING25")
	require.NoError(t, err)
	assert.False(t, c.IsActive)

	require.ErrorIs(t, svc.Deactivate(ctx, "MISSING"), domain.ErrCouponNotFound)
	require.ErrorIs(t, svc.Deactivate(ctx, ""), domain.ErrCouponCodeInvalid)
}
