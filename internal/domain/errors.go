package domain

import (
	"errors"
	"fmt"
)

// Категории ошибок. Каждая конкретная ошибка ниже разворачивается ровно в одну из них.
var (
	// ErrInvalidInput — некорректная позиция корзины или поле запроса; запись не выполняется.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound — неизвестный товар, вариант, заказ или платёж.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCoupon — купон отсутствует или не может быть применён.
	ErrInvalidCoupon = errors.New("invalid coupon")
	// ErrPaymentGateway — сбой или таймаут платёжного шлюза, запрос можно повторить.
	ErrPaymentGateway = errors.New("payment gateway error")
	// ErrPersistence — сбой хранилища или фиксации транзакции.
	ErrPersistence = errors.New("persistence error")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// InvalidInput
var (
	ErrItemsRequired        = newKindError(ErrInvalidInput, "order must contain at least one item")
	ErrItemQtyInvalid       = newKindError(ErrInvalidInput, "item quantity must be greater than zero")
	ErrProductIDRequired    = newKindError(ErrInvalidInput, "product_id is required")
	ErrVariantIDRequired    = newKindError(ErrInvalidInput, "variant_id is required")
	ErrBuyerRequired        = newKindError(ErrInvalidInput, "buyer_id is required")
	ErrBillingEmailRequired = newKindError(ErrInvalidInput, "billing email is required")
	ErrPaymentMethodInvalid = newKindError(ErrInvalidInput, "unsupported payment method")
	ErrAmountNegative       = newKindError(ErrInvalidInput, "amount must be non-negative")
	ErrAmountMismatch       = newKindError(ErrInvalidInput, "order total does not match line items")
	ErrCouponCodeInvalid    = newKindError(ErrInvalidInput, "coupon code must be at least 4 characters")
	ErrCouponKindInvalid    = newKindError(ErrInvalidInput, "coupon kind must be percentage or fixed")
	ErrCouponValueInvalid   = newKindError(ErrInvalidInput, "coupon value is out of range")
	ErrCouponExpiryInvalid  = newKindError(ErrInvalidInput, "coupon expiry must be in the future")
	ErrCouponCodeTaken      = newKindError(ErrInvalidInput, "coupon code already exists")
	ErrRefundAmountInvalid  = newKindError(ErrInvalidInput, "refund amount must be positive and not exceed the paid amount")
	ErrPaymentNotRefundable = newKindError(ErrInvalidInput, "only completed payments can be refunded")
	ErrReferenceRequired    = newKindError(ErrInvalidInput, "payment reference is required")
)

// NotFound
var (
	ErrProductNotFound = newKindError(ErrNotFound, "product not found")
	ErrVariantNotFound = newKindError(ErrNotFound, "variant not found")
	ErrVendorNotFound  = newKindError(ErrNotFound, "vendor not found")
	ErrOrderNotFound   = newKindError(ErrNotFound, "order not found")
	ErrPaymentNotFound = newKindError(ErrNotFound, "payment not found")
	ErrCouponNotFound  = newKindError(ErrNotFound, "coupon not found")
)

// InvalidCoupon, в порядке проверок валидатора.
var (
	ErrCouponUnknown      = newKindError(ErrInvalidCoupon, "coupon code is unknown")
	ErrCouponInactive     = newKindError(ErrInvalidCoupon, "coupon is inactive")
	ErrCouponExpired      = newKindError(ErrInvalidCoupon, "coupon has expired")
	ErrCouponExhausted    = newKindError(ErrInvalidCoupon, "coupon usage limit reached")
	ErrCouponBelowMinimum = newKindError(ErrInvalidCoupon, "order subtotal is below the coupon minimum")
	ErrCouponWrongUser    = newKindError(ErrInvalidCoupon, "coupon is restricted to another user")
	ErrCouponAlreadyUsed  = newKindError(ErrInvalidCoupon, "coupon was already used by this user")
)

var (
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = newKindError(ErrPersistence, "version conflict")
	// ErrPaymentStateChanged — статус платежа изменился параллельным запросом.
	ErrPaymentStateChanged = newKindError(ErrPersistence, "payment status changed concurrently")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrEventRejected — брокер отверг событие окончательно, повтор не поможет.
	ErrEventRejected = errors.New("event rejected by broker")
)

// Метки категорий для метрик и HTTP-ответов.
const (
	KindInvalidInput   = "invalid_input"
	KindNotFound       = "not_found"
	KindInvalidCoupon  = "invalid_coupon"
	KindPaymentGateway = "payment_gateway"
	KindPersistence    = "persistence"
	KindInternal       = "internal"
)

// ErrorKind возвращает стабильную метку категории ошибки.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidCoupon):
		return KindInvalidCoupon
	case errors.Is(err, ErrPaymentGateway):
		return KindPaymentGateway
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	default:
		return KindInternal
	}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// Classify оставляет доменные категории как есть, остальное считает ошибкой хранилища.
func Classify(err error) error {
	if err == nil || ErrorKind(err) != KindInternal {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// GatewayError помечает ошибку обращения к платёжному шлюзу.
func GatewayError(op string, err error) error {
	if errors.Is(err, ErrPaymentGateway) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPaymentGateway, err)
}
