package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/notify"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/checkout"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/outbox"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/payment"
	"github.com/vladislavdragonenkov/vendormarket/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType)
	}
	return types
}

// CheckoutLifecycleTestSuite проверяет путь заказа от корзины до возврата средств.
type CheckoutLifecycleTestSuite struct {
	suite.Suite
	store     *memory.Store
	gateway   *payment.MockGateway
	checkout  *checkout.Service
	payments  *payment.Service
	worker    *outbox.Worker
	published *recordingPublisher
}

func (s *CheckoutLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	catalog := memory.NewCatalog()
	catalog.PutVendor(domain.Vendor{ID: "vendor-1", FullName: "Jane Doe"})
	catalog.PutProduct(domain.Product{
		ID:       "course-1",
		Name:     "Distributed Systems",
		VendorID: "vendor-1",
		Variants: []domain.Variant{
			{ID: "monthly", Name: "Monthly", BasePrice: decimal.NewFromInt(1250), DiscountPercent: decimal.NewFromInt(20)},
		},
	})

	s.store = memory.NewStore()
	s.gateway = payment.NewMockGateway()
	s.checkout = checkout.NewService(s.store, catalog, catalog, s.gateway, notify.NewLogNotifier(logger), checkout.DefaultConfig(),
		checkout.WithLogger(logger))
	s.payments = payment.NewService(s.store, s.gateway, payment.WithLogger(logger))
	s.published = &recordingPublisher{}
	s.worker = outbox.NewWorker(s.store.Repositories().Outbox, s.published, outbox.WithLogger(logger))
}

func (s *CheckoutLifecycleTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.checkout.Shutdown(ctx))
}

func (s *CheckoutLifecycleTestSuite) request(buyer string, qty int, code string) checkout.Request {
	return checkout.Request{
		BuyerID:        buyer,
		BuyerEmail:     buyer + "@example.com",
		Items:          []domain.CartItem{{ProductID: "course-1", VariantID: "monthly", Quantity: qty}},
		BillingAddress: domain.BillingAddress{FirstName: "Test", LastName: "Buyer"},
		CouponCode:     code,
	}
}

func (s *CheckoutLifecycleTestSuite) TestCheckoutVerifyRefund() {
	ctx := context.Background()

	res, err := s.checkout.Checkout(ctx, s.request("buyer-1", 2, ""))
	s.Require().NoError(err)
	s.True(res.Order.Subtotal.Equal(decimal.NewFromInt(2000)), "subtotal %s", res.Order.Subtotal)
	s.True(res.Order.TotalAmount.Equal(decimal.NewFromInt(2100)), "total %s", res.Order.TotalAmount)
	s.Equal("Jane Doe", res.Order.Items[0].VendorName)
	s.NotEmpty(res.NewCouponCode)

	verified, err := s.payments.Verify(ctx, res.Payment.Reference)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusCompleted, verified.Status)

	order, err := s.checkout.GetOrder(ctx, "buyer-1", res.Order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCompleted, order.Status)
	s.Equal(domain.PaymentStatusCompleted, order.PaymentStatus)

	refunded, err := s.payments.Refund(ctx, res.Payment.Reference, decimal.Zero)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusRefunded, refunded.Status)

	s.worker.ProcessOnce(ctx)
	s.Equal([]string{
		domain.EventOrderCreated,
		domain.EventCouponIssued,
		domain.EventPaymentVerified,
		domain.EventPaymentRefunded,
	}, s.published.eventTypes())

	stats, err := s.store.Repositories().Outbox.Stats(ctx)
	s.Require().NoError(err)
	s.Zero(stats.PendingCount)
}

func (s *CheckoutLifecycleTestSuite) TestLoyaltyCouponIsSingleUseAndPersonal() {
	ctx := context.Background()

	first, err := s.checkout.Checkout(ctx, s.request("buyer-1", 1, ""))
	s.Require().NoError(err)
	code := first.NewCouponCode

	_, err = s.checkout.Checkout(ctx, s.request("buyer-2", 2, code))
	s.Require().Error(err)
	s.True(errors.Is(err, domain.ErrCouponWrongUser), "got %v", err)

	second, err := s.checkout.Checkout(ctx, s.request("buyer-1", 2, code))
	s.Require().NoError(err)
	s.True(second.Order.DiscountAmount.Equal(decimal.NewFromInt(300)), "discount %s", second.Order.DiscountAmount)
	s.True(second.Order.TotalAmount.Equal(decimal.NewFromInt(1785)), "total %s", second.Order.TotalAmount)
	s.Equal(code, second.Order.AppliedCouponCode)

	_, err = s.checkout.Checkout(ctx, s.request("buyer-1", 2, code))
	s.Require().Error(err)
	s.Equal(domain.KindInvalidCoupon, domain.ErrorKind(err))

	orders, err := s.checkout.ListOrders(ctx, "buyer-1")
	s.Require().NoError(err)
	s.Len(orders, 2)
}

func (s *CheckoutLifecycleTestSuite) TestGatewayOutageLeavesNoTrace() {
	ctx := context.Background()
	s.gateway.SessionErr = errors.New("gateway timeout")

	_, err := s.checkout.Checkout(ctx, s.request("buyer-1", 1, ""))
	s.Require().Error(err)
	s.Equal(domain.KindPaymentGateway, domain.ErrorKind(err))

	orders, err := s.checkout.ListOrders(ctx, "buyer-1")
	s.Require().NoError(err)
	s.Empty(orders)

	stats, err := s.store.Repositories().Outbox.Stats(ctx)
	s.Require().NoError(err)
	s.Zero(stats.PendingCount)
}

func TestCheckoutLifecycleSuite(t *testing.T) {
	suite.Run(t, new(CheckoutLifecycleTestSuite))
}

func TestConcurrentCheckoutsRedeemSharedCouponOnce(t *testing.T) {
	store := memory.NewStore()
	catalog := memory.NewCatalog()
	catalog.PutVendor(domain.Vendor{ID: "v", CompanyName: "Acme"})
	catalog.PutProduct(domain.Product{
		ID:       "p",
		Name:     "Course",
		VendorID: "v",
		Variants: []domain.Variant{{ID: "x", Name: "Lifetime", SellingPrice: decimal.NewFromInt(1000)}},
	})
	require.NoError(t, store.Repositories().Coupons.Create(context.Background(), domain.Coupon{
		Code:      "LAUNCH50",
		Kind:      domain.CouponKindFixed,
		Value:     decimal.NewFromInt(50),
		ExpiresAt: time.Now().Add(time.Hour),
		MaxUses:   1,
		IsActive:  true,
	}))

	svc := checkout.NewService(store, catalog, catalog, payment.NewMockGateway(), notify.NewLogNotifier(nil), checkout.DefaultConfig())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	const buyers = 8
	var wg sync.WaitGroup
	results := make(chan error, buyers)
	for i := range buyers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), checkout.Request{
				BuyerID:    "buyer-" + string(rune('a'+i)),
				BuyerEmail: "buyer@example.com",
				Items:      []domain.CartItem{{ProductID: "p", VariantID: "x", Quantity: 1}},
				CouponCode: "launch50",
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInvalidCoupon):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, buyers-1, rejected)

	c, err := store.Repositories().Coupons.GetByCode(context.Background(), "LAUNCH50")
	require.NoError(t, err)
	require.Equal(t, 1, c.UsesCount)
}
