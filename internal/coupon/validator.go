// Package coupon проверяет применимость купонов и выпускает купоны лояльности.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Discount — результат успешной проверки купона.
type Discount struct {
	Code   string
	Kind   domain.CouponKind
	Amount decimal.Decimal
}

// Lookup читает купон по коду.
type Lookup interface {
	GetByCode(ctx context.Context, code string) (domain.Coupon, error)
}

// Option настраивает Validator.
type Option func(*Validator)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// Validator проверяет купон против подытога заказа и покупателя.
type Validator struct {
	now func() time.Time
}

// NewValidator создаёт валидатор с системными часами.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate возвращает первую причину отказа в порядке:
// inactive, expired, exhausted, below minimum, wrong user, already used.
func (v *Validator) Validate(c domain.Coupon, subtotal decimal.Decimal, userID string) (Discount, error) {
	now := v.now()

	switch {
	case !c.IsActive:
		return Discount{}, domain.ErrCouponInactive
	case !now.Before(c.ExpiresAt):
		return Discount{}, domain.ErrCouponExpired
	case c.UsesCount >= c.MaxUses:
		return Discount{}, domain.ErrCouponExhausted
	case subtotal.LessThan(c.MinOrderAmount):
		return Discount{}, domain.ErrCouponBelowMinimum
	case c.Restricted() && c.RestrictedToUserID != userID:
		return Discount{}, domain.ErrCouponWrongUser
	case !c.Restricted() && c.UsedBy(userID):
		return Discount{}, domain.ErrCouponAlreadyUsed
	}

	return Discount{
		Code:   c.Code,
		Kind:   c.Kind,
		Amount: Amount(c, subtotal),
	}, nil
}

// ValidateCode находит купон и проверяет его. Для неизвестного кода возвращает ErrCouponUnknown.
func (v *Validator) ValidateCode(ctx context.Context, lookup Lookup, code string, subtotal decimal.Decimal, userID string) (Discount, error) {
	code = domain.NormalizeCouponCode(code)
	c, err := lookup.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrCouponNotFound) {
			return Discount{}, fmt.Errorf("coupon %s: %w", code, domain.ErrCouponUnknown)
		}
		return Discount{}, fmt.Errorf("load coupon %s: %w", code, err)
	}
	return v.Validate(c, subtotal, userID)
}

// Amount считает скидку без проверок применимости, не больше subtotal.
func Amount(c domain.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.Kind {
	case domain.CouponKindPercentage:
		discount = subtotal.Mul(c.Value).Div(hundred)
	case domain.CouponKindFixed:
		discount = c.Value
	default:
		return decimal.Zero
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, subtotal)
}
