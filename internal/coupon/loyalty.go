package coupon

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// LoyaltyPolicy — параметры купона, выдаваемого после заказа.
type LoyaltyPolicy struct {
	Percent        decimal.Decimal
	Validity       time.Duration
	MinOrderAmount decimal.Decimal
	MaxUses        int
	CodePrefix     string
}

// DefaultLoyaltyPolicy: 15% на 30 дней, минимальный заказ 1000, одно использование.
func DefaultLoyaltyPolicy() LoyaltyPolicy {
	return LoyaltyPolicy{
		Percent:        decimal.NewFromInt(15),
		Validity:       30 * 24 * time.Hour,
		MinOrderAmount: decimal.NewFromInt(1000),
		MaxUses:        1,
		CodePrefix:     "ORDER-",
	}
}

// NewLoyaltyCoupon выпускает одноразовый купон, привязанный к покупателю.
func NewLoyaltyCoupon(policy LoyaltyPolicy, userID string, now time.Time) domain.Coupon {
	now = now.UTC()
	return domain.Coupon{
		Code:               policy.CodePrefix + randomSuffix(),
		Kind:               domain.CouponKindPercentage,
		Value:              policy.Percent,
		ExpiresAt:          now.Add(policy.Validity),
		MinOrderAmount:     policy.MinOrderAmount,
		MaxUses:            policy.MaxUses,
		RestrictedToUserID: userID,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func randomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
