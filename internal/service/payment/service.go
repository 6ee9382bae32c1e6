package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/metrics"
)

const defaultGatewayTimeout = 15 * time.Second

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

// WithMetrics включает метрики.
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

// WithGatewayTimeout ограничивает одно обращение к шлюзу.
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

// Service подтверждает платежи, оформляет возвраты и отдаёт историю.
type Service struct {
	store          domain.Store
	gateway        domain.PaymentGateway
	logger         *log.Entry
	metrics        *metrics.CheckoutMetrics
	now            func() time.Time
	gatewayTimeout time.Duration
}

// NewService создаёт платёжный сервис.
func NewService(store domain.Store, gateway domain.PaymentGateway, opts ...Option) *Service {
	s := &Service{
		store:          store,
		gateway:        gateway,
		logger:         log.WithField("component", "payment"),
		now:            time.Now,
		gatewayTimeout: defaultGatewayTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type paymentEventPayload struct {
	Reference string `json:"reference"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
}

// Verify запрашивает у шлюза итог транзакции и переводит платёж и заказ в финальный статус.
// Для уже завершённого платежа возвращает сохранённое состояние без обращения к шлюзу.
// Пока покупатель не завершил оплату, платёж остаётся pending и проверку можно повторить.
func (s *Service) Verify(ctx context.Context, reference string) (domain.Payment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Payment{}, domain.ErrReferenceRequired
	}

	payment, err := s.store.Repositories().Payments.GetByReference(ctx, reference)
	if err != nil {
		return domain.Payment{}, domain.Classify(err)
	}
	if payment.Status != domain.PaymentStatusPending {
		return payment, nil
	}

	verification, err := s.verifyAtGateway(ctx, reference)
	if err != nil {
		return domain.Payment{}, err
	}

	logger := s.logger.WithFields(log.Fields{"reference": reference, "order_id": payment.OrderID})

	var status domain.PaymentStatus
	switch verification.Status {
	case domain.VerificationSuccess:
		status = domain.PaymentStatusCompleted
		if expected := domain.ToMinorUnits(payment.Amount); verification.AmountMinor != expected {
			logger.WithFields(log.Fields{"expected": expected, "paid": verification.AmountMinor}).Warn("paid amount differs from order total")
			status = domain.PaymentStatusFailed
		}
	case domain.VerificationFailed:
		status = domain.PaymentStatusFailed
	default:
		logger.WithField("gateway_response", verification.GatewayResponse).Info("payment is not completed yet")
		return payment, nil
	}

	var updated domain.Payment
	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos domain.Repositories) error {
		now := s.now().UTC()
		if err := repos.Payments.Transition(ctx, reference, domain.PaymentStatusPending, status, now); err != nil {
			return err
		}

		current, err := repos.Payments.GetByReference(ctx, reference)
		if err != nil {
			return err
		}
		current.GatewayResponse = verification.GatewayResponse
		current.ProcessedAt = now
		if err := repos.Payments.Save(ctx, current); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}

		orderID := current.OrderID
		if orderID == "" {
			orderID = verification.Metadata["orderId"]
		}
		if orderID != "" {
			if err := s.settleOrder(ctx, repos.Orders, orderID, status, now); err != nil {
				return err
			}
		}

		if err := enqueuePaymentEvent(ctx, repos.Outbox, domain.EventPaymentVerified, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if errors.Is(err, domain.ErrPaymentStateChanged) {
		// Платёж уже подтвердил параллельный запрос.
		current, err := s.store.Repositories().Payments.GetByReference(ctx, reference)
		return current, domain.Classify(err)
	}
	if err != nil {
		err = domain.Classify(err)
		logger.WithError(err).Warn("payment verification rolled back")
		return domain.Payment{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentVerified(string(updated.Status))
	}
	logger.WithField("status", updated.Status).Info("payment verified")
	return updated, nil
}

func (s *Service) settleOrder(ctx context.Context, orders domain.OrderRepository, orderID string, status domain.PaymentStatus, now time.Time) error {
	order, err := orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	order.PaymentStatus = status
	if status == domain.PaymentStatusCompleted {
		order.Status = domain.OrderStatusCompleted
	}
	order.UpdatedAt = now
	if err := orders.Save(ctx, order); err != nil {
		return fmt.Errorf("save order %s: %w", orderID, err)
	}
	return nil
}

// Refund возвращает средства по завершённому платежу. Нулевая сумма означает полный возврат.
// Перед обращением к шлюзу платёж переводится в refunding, поэтому параллельный
// возврат того же платежа получает ErrPaymentNotRefundable.
func (s *Service) Refund(ctx context.Context, reference string, amount decimal.Decimal) (domain.Payment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Payment{}, domain.ErrReferenceRequired
	}

	payments := s.store.Repositories().Payments
	payment, err := payments.GetByReference(ctx, reference)
	if err != nil {
		return domain.Payment{}, domain.Classify(err)
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return domain.Payment{}, domain.ErrPaymentNotRefundable
	}
	if amount.IsZero() {
		amount = payment.Amount
	}
	if !amount.IsPositive() || amount.GreaterThan(payment.Amount) {
		return domain.Payment{}, domain.ErrRefundAmountInvalid
	}

	logger := s.logger.WithFields(log.Fields{"reference": reference, "order_id": payment.OrderID, "amount": amount.String()})

	err = payments.Transition(ctx, reference, domain.PaymentStatusCompleted, domain.PaymentStatusRefunding, s.now().UTC())
	if errors.Is(err, domain.ErrPaymentStateChanged) {
		return domain.Payment{}, domain.ErrPaymentNotRefundable
	}
	if err != nil {
		return domain.Payment{}, domain.Classify(err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	start := time.Now()
	_, err = s.gateway.Refund(gwCtx, domain.RefundRequest{
		Reference:   reference,
		AmountMinor: domain.ToMinorUnits(amount),
	})
	cancel()
	if s.metrics != nil {
		s.metrics.RecordGatewayCall("refund", err, time.Since(start))
	}
	if err != nil {
		releaseCtx := context.WithoutCancel(ctx)
		if releaseErr := payments.Transition(releaseCtx, reference, domain.PaymentStatusRefunding, domain.PaymentStatusCompleted, s.now().UTC()); releaseErr != nil {
			logger.WithError(releaseErr).Error("failed to release payment after rejected refund")
		}
		return domain.Payment{}, domain.GatewayError("refund payment", err)
	}

	var updated domain.Payment
	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos domain.Repositories) error {
		current, err := repos.Payments.GetByReference(ctx, reference)
		if err != nil {
			return err
		}
		if current.Status != domain.PaymentStatusRefunding {
			return fmt.Errorf("payment %s is %s, want %s: %w", reference, current.Status, domain.PaymentStatusRefunding, domain.ErrPaymentStateChanged)
		}

		now := s.now().UTC()
		current.Status = domain.PaymentStatusRefunded
		current.RefundedAmount = amount
		current.UpdatedAt = now
		if err := repos.Payments.Save(ctx, current); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}

		if current.OrderID != "" {
			order, err := repos.Orders.Get(ctx, current.OrderID)
			if err != nil {
				return fmt.Errorf("load order %s: %w", current.OrderID, err)
			}
			order.Status = domain.OrderStatusRefunded
			order.PaymentStatus = domain.PaymentStatusRefunded
			order.UpdatedAt = now
			if err := repos.Orders.Save(ctx, order); err != nil {
				return fmt.Errorf("save order %s: %w", current.OrderID, err)
			}
		}

		if err := enqueuePaymentEvent(ctx, repos.Outbox, domain.EventPaymentRefunded, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		// Шлюз уже вернул деньги; платёж остаётся refunding до ручного разбора.
		err = domain.Classify(err)
		logger.WithError(err).Error("refund accepted by gateway but not recorded")
		return domain.Payment{}, err
	}

	logger.Info("payment refunded")
	return updated, nil
}

// History возвращает платежи пользователя, новые первыми.
func (s *Service) History(ctx context.Context, userID string) ([]domain.Payment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrBuyerRequired
	}
	payments, err := s.store.Repositories().Payments.ListByUser(ctx, userID, 0)
	if err != nil {
		return nil, domain.Classify(err)
	}
	return payments, nil
}

func (s *Service) verifyAtGateway(ctx context.Context, reference string) (domain.Verification, error) {
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	start := time.Now()
	v, err := s.gateway.Verify(gwCtx, reference)
	if s.metrics != nil {
		s.metrics.RecordGatewayCall("verify", err, time.Since(start))
	}
	if err != nil {
		return domain.Verification{}, domain.GatewayError("verify payment", err)
	}
	return v, nil
}

func enqueuePaymentEvent(ctx context.Context, outbox domain.OutboxRepository, eventType string, p domain.Payment) error {
	data, err := json.Marshal(paymentEventPayload{
		Reference: p.Reference,
		OrderID:   p.OrderID,
		UserID:    p.UserID,
		Status:    string(p.Status),
		Amount:    p.Amount.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	if _, err := outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregatePayment,
		AggregateID:   p.Reference,
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}
