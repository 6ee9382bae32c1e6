package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MinCouponCodeLength — минимальная длина кода купона.
const MinCouponCodeLength = 4

// CouponKind задаёт способ расчёта скидки.
type CouponKind string

const (
	CouponKindPercentage CouponKind = "percentage"
	CouponKindFixed      CouponKind = "fixed"
)

// Coupon — скидочный код.
type Coupon struct {
	Code               string
	Kind               CouponKind
	Value              decimal.Decimal
	ExpiresAt          time.Time
	MinOrderAmount     decimal.Decimal
	MaxUses            int
	UsesCount          int
	RestrictedToUserID string
	UsedByUserIDs      []string
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NormalizeCouponCode приводит код к каноническому виду.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate проверяет структурные ограничения купона при его создании.
func (c *Coupon) Validate() error {
	switch {
	case len(c.Code) < MinCouponCodeLength:
		return ErrCouponCodeInvalid
	case c.Kind != CouponKindPercentage && c.Kind != CouponKindFixed:
		return ErrCouponKindInvalid
	case c.Value.IsNegative(), c.Kind == CouponKindPercentage && c.Value.GreaterThan(hundred):
		return ErrCouponValueInvalid
	case c.MinOrderAmount.IsNegative(), c.MaxUses < 0, c.UsesCount < 0:
		return ErrCouponValueInvalid
	default:
		return nil
	}
}

// Restricted сообщает, что купон выдан конкретному пользователю.
func (c *Coupon) Restricted() bool {
	return c.RestrictedToUserID != ""
}

// UsedBy проверяет, применял ли пользователь этот купон.
func (c *Coupon) UsedBy(userID string) bool {
	return slices.Contains(c.UsedByUserIDs, userID)
}

// Consumable: активен, не истёк и лимит не исчерпан.
func (c *Coupon) Consumable(now time.Time) bool {
	return c.IsActive && now.Before(c.ExpiresAt) && c.UsesCount < c.MaxUses
}

// Clone возвращает копию купона с собственным срезом пользователей.
func (c Coupon) Clone() Coupon {
	c.UsedByUserIDs = append([]string(nil), c.UsedByUserIDs...)
	return c
}
