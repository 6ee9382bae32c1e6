package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/storage/memory"
)

func newOrder(id, buyer string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:      id,
		BuyerID: buyer,
		Items: []domain.OrderLineItem{
			{ProductID: "p1", VariantID: "v1", Quantity: 1, PriceAtPurchase: decimal.NewFromInt(100), LineTotal: decimal.NewFromInt(100)},
		},
		Subtotal:      decimal.NewFromInt(100),
		TotalAmount:   decimal.NewFromInt(105),
		TaxAmount:     decimal.NewFromInt(5),
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPending,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func newCoupon(code string, maxUses int) domain.Coupon {
	return domain.Coupon{
		Code:      code,
		Kind:      domain.CouponKindFixed,
		Value:     decimal.NewFromInt(50),
		ExpiresAt: time.Now().Add(time.Hour),
		MaxUses:   maxUses,
		IsActive:  true,
	}
}

func TestOrderRepository_CreateGetList(t *testing.T) {
	store := memory.NewStore()
	repos := store.Repositories()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repos.Orders.Create(ctx, newOrder("o-1", "b-1", now.Add(-time.Minute))))
	require.NoError(t, repos.Orders.Create(ctx, newOrder("o-2", "b-1", now)))
	require.NoError(t, repos.Orders.Create(ctx, newOrder("o-3", "b-2", now)))

	err := repos.Orders.Create(ctx, newOrder("o-1", "b-1", now))
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	got, err := repos.Orders.Get(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, "b-1", got.BuyerID)

	list, err := repos.Orders.ListByBuyer(ctx, "b-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "o-2", list[0].ID, "newest first")

	list, err = repos.Orders.ListByBuyer(ctx, "b-1", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = repos.Orders.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_SaveOptimisticLocking(t *testing.T) {
	store := memory.NewStore()
	repos := store.Repositories()
	ctx := context.Background()

	require.NoError(t, repos.Orders.Create(ctx, newOrder("o-1", "b-1", time.Now())))

	order, err := repos.Orders.Get(ctx, "o-1")
	require.NoError(t, err)
	order.Status = domain.OrderStatusCompleted
	require.NoError(t, repos.Orders.Save(ctx, order))

	// Повторное сохранение со старой версией.
	err = repos.Orders.Save(ctx, order)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	require.True(t, domain.IsVersionConflict(err))

	stored, err := repos.Orders.Get(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Version)
	require.Equal(t, domain.OrderStatusCompleted, stored.Status)
}

func TestStore_WithinTransactionRollsBackEverything(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Repositories().Coupons.Create(ctx, newCoupon("SAVE50", 1)))

	boom := errors.New("gateway down")
	err := store.WithinTransaction(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if _, err := repos.Coupons.Redeem(ctx, "SAVE50", "b-1", time.Now()); err != nil {
			return err
		}
		if err := repos.Orders.Create(ctx, newOrder("o-1", "b-1", time.Now())); err != nil {
			return err
		}
		if err := repos.Payments.Create(ctx, domain.Payment{Reference: "ref-1", OrderID: "o-1", UserID: "b-1"}); err != nil {
			return err
		}
		if _, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{EventType: "order.created"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	repos := store.Repositories()
	_, err = repos.Orders.Get(ctx, "o-1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = repos.Payments.GetByReference(ctx, "ref-1")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)
	require.Empty(t, store.AllPending())

	c, err := repos.Coupons.GetByCode(ctx, "save50")
	require.NoError(t, err)
	require.Zero(t, c.UsesCount)
	require.Empty(t, c.UsedByUserIDs)
}

func TestStore_WithinTransactionRollsBackOnPanic(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.Panics(t, func() {
		_ = store.WithinTransaction(ctx, func(ctx context.Context, repos domain.Repositories) error {
			_ = repos.Orders.Create(ctx, newOrder("o-1", "b-1", time.Now()))
			panic("unexpected")
		})
	})

	_, err := store.Repositories().Orders.Get(ctx, "o-1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	// Хранилище не должно остаться заблокированным.
	require.NoError(t, store.Repositories().Orders.Create(ctx, newOrder("o-2", "b-1", time.Now())))
}

func TestStore_WithinTransactionCommits(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	err := store.WithinTransaction(ctx, func(ctx context.Context, repos domain.Repositories) error {
		return repos.Orders.Create(ctx, newOrder("o-1", "b-1", time.Now()))
	})
	require.NoError(t, err)

	_, err = store.Repositories().Orders.Get(ctx, "o-1")
	require.NoError(t, err)
}

func TestCouponRepository_CreateAndRedeem(t *testing.T) {
	store := memory.NewStore()
	repos := store.Repositories()
	ctx := context.Background()

	require.NoError(t, repos.Coupons.Create(ctx, newCoupon(" multi ", 2)))
	require.ErrorIs(t, repos.Coupons.Create(ctx, newCoupon("MULTI", 2)), domain.ErrCouponCodeTaken)

	c, err := repos.Coupons.Redeem(ctx, "MULTI", "b-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, c.UsesCount)
	require.Equal(t, []string{"b-1"}, c.UsedByUserIDs)

	// Тот же пользователь не может применить неограниченный купон повторно.
	_, err = repos.Coupons.Redeem(ctx, "MULTI", "b-1", time.Now())
	require.ErrorIs(t, err, domain.ErrCouponExhausted)

	_, err = repos.Coupons.Redeem(ctx, "MULTI", "b-2", time.Now())
	require.NoError(t, err)

	_, err = repos.Coupons.Redeem(ctx, "MULTI", "b-3", time.Now())
	require.ErrorIs(t, err, domain.ErrCouponExhausted)

	_, err = repos.Coupons.Redeem(ctx, "NOPE", "b-3", time.Now())
	require.ErrorIs(t, err, domain.ErrCouponNotFound)
}

func TestCouponRepository_RedeemRestricted(t *testing.T) {
	store := memory.NewStore()
	repos := store.Repositories()
	ctx := context.Background()

	c := newCoupon("ORDER-1234ABCD", 1)
	c.RestrictedToUserID = "b-1"
	require.NoError(t, repos.Coupons.Create(ctx, c))

	_, err := repos.Coupons.Redeem(ctx, c.Code, "b-2", time.Now())
	require.ErrorIs(t, err, domain.ErrCouponExhausted)

	_, err = repos.Coupons.Redeem(ctx, c.Code, "b-1", time.Now())
	require.NoError(t, err)
}

func TestCouponRepository_Deactivate(t *testing.T) {
	store := memory.NewStore()
	repos := store.Repositories()
	ctx := context.Background()

	require.NoError(t, repos.Coupons.Create(ctx, newCoupon("SPRING", 10)))
	require.NoError(t, repos.Coupons.Deactivate(ctx, "spring"))

	c, err := repos.Coupons.GetByCode(ctx, "SPRING")
	require.NoError(t, err)
	require.False(t, c.IsActive)

	_, err = repos.Coupons.Redeem(ctx, "SPRING", "b-1", time.Now())
	require.ErrorIs(t, err, domain.ErrCouponExhausted)
	require.ErrorIs(t, repos.Coupons.Deactivate(ctx, "NOPE"), domain.ErrCouponNotFound)
}

func TestCouponRepository_ConcurrentRedeemSingleUse(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Repositories().Coupons.Create(ctx, newCoupon("ONCE", 1)))

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.WithinTransaction(ctx, func(ctx context.Context, repos domain.Repositories) error {
				_, err := repos.Coupons.Redeem(ctx, "ONCE", string(rune('a'+i)), time.Now())
				return err
			})
			if err == nil {
				successes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), successes.Load())
}

func TestPaymentRepository(t *testing.T) {
	store := memory.NewStore()
	repos := store.Repositories()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repos.Payments.Create(ctx, domain.Payment{Reference: "r-1", UserID: "u", Status: domain.PaymentStatusPending, CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, repos.Payments.Create(ctx, domain.Payment{Reference: "r-2", UserID: "u", Status: domain.PaymentStatusPending, CreatedAt: now}))
	require.ErrorIs(t, repos.Payments.Create(ctx, domain.Payment{Reference: "r-1"}), domain.ErrVersionConflict)

	p, err := repos.Payments.GetByReference(ctx, "r-1")
	require.NoError(t, err)
	p.Status = domain.PaymentStatusCompleted
	require.NoError(t, repos.Payments.Save(ctx, p))

	list, err := repos.Payments.ListByUser(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "r-2", list[0].Reference)
	require.Equal(t, domain.PaymentStatusCompleted, list[1].Status)

	require.ErrorIs(t, repos.Payments.Save(ctx, domain.Payment{Reference: "missing"}), domain.ErrPaymentNotFound)
}

func TestPaymentRepository_Transition(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Repositories().Payments.Create(ctx, domain.Payment{Reference: "r-1", Status: domain.PaymentStatusCompleted}))

	var (
		wg      sync.WaitGroup
		claimed atomic.Int32
		lost    atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Repositories().Payments.Transition(ctx, "r-1", domain.PaymentStatusCompleted, domain.PaymentStatusRefunding, now)
			switch {
			case err == nil:
				claimed.Add(1)
			case errors.Is(err, domain.ErrPaymentStateChanged):
				lost.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), claimed.Load())
	require.Equal(t, int32(7), lost.Load())

	p, err := store.Repositories().Payments.GetByReference(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusRefunding, p.Status)
	require.True(t, p.UpdatedAt.Equal(now))

	// Откат транзакции возвращает прежний статус.
	err = store.WithinTransaction(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if err := repos.Payments.Transition(ctx, "r-1", domain.PaymentStatusRefunding, domain.PaymentStatusCompleted, now); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	p, err = store.Repositories().Payments.GetByReference(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusRefunding, p.Status)

	require.ErrorIs(t, store.Repositories().Payments.Transition(ctx, "missing", domain.PaymentStatusPending, domain.PaymentStatusFailed, now), domain.ErrPaymentNotFound)
}

func TestOutboxRepository_EnqueuePullMark(t *testing.T) {
	store := memory.NewStore()
	repo := store.Repositories().Outbox
	ctx := context.Background()

	first, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: "order", AggregateID: "o-1", EventType: "order.created"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	second, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: "coupon", AggregateID: "C", EventType: "coupon.issued"})
	require.NoError(t, err)

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID, "enqueue order preserved")

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(ctx, first.ID))
	require.NoError(t, repo.MarkFailed(ctx, second.ID))
	require.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)

	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
