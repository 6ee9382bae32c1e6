// Package checkout превращает корзину в заказ, платёжную сессию и купон лояльности.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/coupon"
	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/metrics"
	"github.com/vladislavdragonenkov/vendormarket/internal/pricing"
)

const (
	defaultGatewayTimeout = 15 * time.Second
	defaultNotifyTimeout  = 10 * time.Second
)

// Config — параметры чекаута, передаются при создании сервиса.
type Config struct {
	TaxRate        decimal.Decimal
	Loyalty        coupon.LoyaltyPolicy
	GatewayTimeout time.Duration
	NotifyTimeout  time.Duration
	// CallbackURL передаётся шлюзу как адрес возврата покупателя.
	CallbackURL string
}

// DefaultConfig: налог 5%, купон лояльности 15% на 30 дней.
func DefaultConfig() Config {
	return Config{
		TaxRate:        decimal.RequireFromString("0.05"),
		Loyalty:        coupon.DefaultLoyaltyPolicy(),
		GatewayTimeout: defaultGatewayTimeout,
		NotifyTimeout:  defaultNotifyTimeout,
	}
}

// Request — входные данные чекаута.
type Request struct {
	BuyerID string
	// BuyerEmail используется для платёжной сессии и письма; если пуст, берётся из BillingAddress.
	BuyerEmail     string
	Items          []domain.CartItem
	BillingAddress domain.BillingAddress
	PaymentMethod  domain.PaymentMethod
	CouponCode     string
}

// Result — итог успешного чекаута.
type Result struct {
	Order         domain.Order
	Payment       domain.Payment
	Session       domain.PaymentSession
	NewCouponCode string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики; без опции метрики не пишутся.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service оркестрирует чекаут.
type Service struct {
	store     domain.Store
	pricing   *pricing.Engine
	validator *coupon.Validator
	gateway   domain.PaymentGateway
	notifier  domain.Notifier
	cfg       Config
	logger    *log.Entry
	metrics   *metrics.CheckoutMetrics
	now       func() time.Time

	notifyWG sync.WaitGroup
}

// NewService создаёт оркестратор чекаута.
func NewService(
	store domain.Store,
	catalog domain.ProductCatalog,
	users domain.UserDirectory,
	gateway domain.PaymentGateway,
	notifier domain.Notifier,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}

	s := &Service{
		store:    store,
		pricing:  pricing.NewEngine(catalog, users),
		gateway:  gateway,
		notifier: notifier,
		cfg:      cfg,
		logger:   log.WithField("component", "checkout"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.validator = coupon.NewValidator(coupon.WithClock(s.now))
	return s
}

// Checkout выполняет шаги: цены, купон, итоги, заказ, платёжная сессия, купон лояльности.
// Всё, что пишется в хранилище, фиксируется одной транзакцией; уведомление уходит после commit.
func (s *Service) Checkout(ctx context.Context, req Request) (result Result, err error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordCheckoutStarted()
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordCheckoutFinished(domain.ErrorKind(err), time.Since(start))
		}
	}()

	logger := s.logger.WithField("buyer_id", req.BuyerID)

	email, err := validateRequest(&req)
	if err != nil {
		return Result{}, err
	}

	priced, err := s.pricing.PriceCart(ctx, req.Items)
	if err != nil {
		logger.WithError(err).Debug("cart pricing failed")
		return Result{}, err
	}

	// Ранняя проверка купона без блокировок: неверный код не открывает транзакцию.
	if req.CouponCode != "" {
		if _, err := s.validator.ValidateCode(ctx, s.store.Repositories().Coupons, req.CouponCode, priced.Subtotal, req.BuyerID); err != nil {
			logger.WithError(err).WithField("coupon", req.CouponCode).Info("coupon rejected")
			return Result{}, domain.Classify(err)
		}
	}

	now := s.now().UTC()
	order := domain.Order{
		ID:             uuid.NewString(),
		BuyerID:        req.BuyerID,
		Items:          priced.Items,
		BillingAddress: req.BillingAddress,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  domain.PaymentStatusPending,
		Status:         domain.OrderStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var outboxCount int
	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos domain.Repositories) error {
		discount := decimal.Zero
		if req.CouponCode != "" {
			d, err := s.redeemCoupon(ctx, repos.Coupons, req.CouponCode, priced.Subtotal, req.BuyerID, now)
			if err != nil {
				return err
			}
			discount = d.Amount
			order.AppliedCouponCode = d.Code
		}

		totals := pricing.ComputeTotals(order.Items, discount, s.cfg.TaxRate)
		order.Subtotal = totals.Subtotal
		order.DiscountAmount = totals.DiscountAmount
		order.TaxAmount = totals.TaxAmount
		order.TotalAmount = totals.TotalAmount

		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}
		if err := repos.Orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		session, err := s.createSession(ctx, order, email)
		if err != nil {
			return err
		}
		result.Session = session

		order.TransactionID = session.Reference
		order.UpdatedAt = s.now().UTC()
		if err := repos.Orders.Save(ctx, order); err != nil {
			return fmt.Errorf("attach transaction to order: %w", err)
		}
		order.Version++

		payment := domain.Payment{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			UserID:    req.BuyerID,
			Reference: session.Reference,
			Amount:    order.TotalAmount,
			Status:    domain.PaymentStatusPending,
			Metadata:  map[string]string{"userId": req.BuyerID, "orderId": order.ID},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repos.Payments.Create(ctx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		result.Payment = payment

		loyalty := coupon.NewLoyaltyCoupon(s.cfg.Loyalty, req.BuyerID, now)
		if err := repos.Coupons.Create(ctx, loyalty); err != nil {
			return fmt.Errorf("create loyalty coupon: %w", err)
		}
		result.NewCouponCode = loyalty.Code

		outboxCount, err = enqueueCheckoutEvents(ctx, repos.Outbox, order, loyalty)
		return err
	})
	if err != nil {
		err = domain.Classify(err)
		logger.WithError(err).WithField("kind", domain.ErrorKind(err)).Warn("checkout rolled back")
		return Result{}, err
	}

	result.Order = order
	if s.metrics != nil {
		if order.AppliedCouponCode != "" {
			s.metrics.RecordCouponRedeemed()
		}
		s.metrics.RecordCouponIssued()
		s.metrics.RecordOutboxEvents(outboxCount)
	}

	logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"reference": result.Payment.Reference,
		"total":     order.TotalAmount.String(),
		"coupon":    order.AppliedCouponCode,
	}).Info("checkout committed")

	s.notifyAsync(domain.CouponNotification{
		ToEmail:    email,
		CouponCode: result.NewCouponCode,
		Value:      s.cfg.Loyalty.Percent,
		Kind:       domain.CouponKindPercentage,
		ExpiresAt:  now.Add(s.cfg.Loyalty.Validity),
		Context: domain.CouponEmailContext{
			OrderID:      order.ID,
			ProductNames: order.ProductNames(),
			TotalAmount:  order.TotalAmount,
		},
	})

	return result, nil
}

// redeemCoupon повторно проверяет купон под блокировкой и списывает одно использование.
func (s *Service) redeemCoupon(ctx context.Context, coupons domain.CouponRepository, code string, subtotal decimal.Decimal, buyerID string, now time.Time) (coupon.Discount, error) {
	code = domain.NormalizeCouponCode(code)

	c, err := coupons.GetForUpdate(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrCouponNotFound) {
			return coupon.Discount{}, fmt.Errorf("coupon %s: %w", code, domain.ErrCouponUnknown)
		}
		return coupon.Discount{}, fmt.Errorf("lock coupon %s: %w", code, err)
	}

	d, err := s.validator.Validate(c, subtotal, buyerID)
	if err != nil {
		return coupon.Discount{}, err
	}

	if _, err := coupons.Redeem(ctx, code, buyerID, now); err != nil {
		return coupon.Discount{}, fmt.Errorf("redeem coupon %s: %w", code, err)
	}
	return d, nil
}

func (s *Service) createSession(ctx context.Context, order domain.Order, email string) (domain.PaymentSession, error) {
	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	session, err := s.gateway.CreateSession(gwCtx, domain.SessionRequest{
		AmountMinor: domain.ToMinorUnits(order.TotalAmount),
		Email:       email,
		OrderID:     order.ID,
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    map[string]string{"userId": order.BuyerID, "orderId": order.ID},
	})
	if s.metrics != nil {
		s.metrics.RecordGatewayCall("create_session", err, time.Since(start))
	}
	if err != nil {
		return domain.PaymentSession{}, domain.GatewayError("create payment session", err)
	}
	if session.Reference == "" {
		return domain.PaymentSession{}, domain.GatewayError("create payment session", errors.New("empty reference"))
	}
	return session, nil
}

func (s *Service) notifyAsync(n domain.CouponNotification) {
	if s.notifier == nil {
		return
	}

	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		logger := s.logger.WithFields(log.Fields{
			"order_id": n.Context.OrderID,
			"coupon":   n.CouponCode,
		})
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("panic", r).Error("coupon notification panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()

		if err := s.notifier.SendCouponEmail(ctx, n); err != nil {
			if s.metrics != nil {
				s.metrics.RecordNotificationFailed()
			}
			logger.WithError(err).Warn("coupon notification failed")
			return
		}
		logger.Debug("coupon notification sent")
	}()
}

// Shutdown ждёт завершения отправки уведомлений или отмены ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.notifyWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateRequest(req *Request) (string, error) {
	req.BuyerID = strings.TrimSpace(req.BuyerID)
	if req.BuyerID == "" {
		return "", domain.ErrBuyerRequired
	}

	method, err := domain.ParsePaymentMethod(string(req.PaymentMethod))
	if err != nil {
		return "", err
	}
	req.PaymentMethod = method
	req.CouponCode = domain.NormalizeCouponCode(req.CouponCode)

	email := strings.TrimSpace(req.BuyerEmail)
	if email == "" {
		email = strings.TrimSpace(req.BillingAddress.Email)
	}
	if email == "" {
		return "", domain.ErrBillingEmailRequired
	}
	return email, nil
}
