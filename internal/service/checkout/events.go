package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

type orderCreatedPayload struct {
	OrderID        string `json:"order_id"`
	BuyerID        string `json:"buyer_id"`
	Subtotal       string `json:"subtotal"`
	DiscountAmount string `json:"discount_amount"`
	TaxAmount      string `json:"tax_amount"`
	TotalAmount    string `json:"total_amount"`
	CouponCode     string `json:"coupon_code,omitempty"`
	Reference      string `json:"reference"`
	Items          int    `json:"items"`
	CreatedAt      string `json:"created_at"`
}

type couponPayload struct {
	Code      string `json:"code"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind,omitempty"`
	Value     string `json:"value,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// enqueueCheckoutEvents пишет события чекаута в outbox той же транзакции.
func enqueueCheckoutEvents(ctx context.Context, outbox domain.OutboxRepository, order domain.Order, loyalty domain.Coupon) (int, error) {
	msgs := make([]domain.OutboxMessage, 0, 3)

	created, err := newMessage(domain.AggregateOrder, order.ID, domain.EventOrderCreated, orderCreatedPayload{
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		Subtotal:       order.Subtotal.String(),
		DiscountAmount: order.DiscountAmount.String(),
		TaxAmount:      order.TaxAmount.String(),
		TotalAmount:    order.TotalAmount.String(),
		CouponCode:     order.AppliedCouponCode,
		Reference:      order.TransactionID,
		Items:          len(order.Items),
		CreatedAt:      order.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return 0, err
	}
	msgs = append(msgs, created)

	if order.AppliedCouponCode != "" {
		redeemed, err := newMessage(domain.AggregateCoupon, order.AppliedCouponCode, domain.EventCouponRedeemed, couponPayload{
			Code:    order.AppliedCouponCode,
			OrderID: order.ID,
			UserID:  order.BuyerID,
		})
		if err != nil {
			return 0, err
		}
		msgs = append(msgs, redeemed)
	}

	issued, err := newMessage(domain.AggregateCoupon, loyalty.Code, domain.EventCouponIssued, couponPayload{
		Code:      loyalty.Code,
		OrderID:   order.ID,
		UserID:    loyalty.RestrictedToUserID,
		Kind:      string(loyalty.Kind),
		Value:     loyalty.Value.String(),
		ExpiresAt: loyalty.ExpiresAt.Format(time.RFC3339),
	})
	if err != nil {
		return 0, err
	}
	msgs = append(msgs, issued)

	for _, msg := range msgs {
		if _, err := outbox.Enqueue(ctx, msg); err != nil {
			return 0, fmt.Errorf("enqueue %s: %w", msg.EventType, err)
		}
	}
	return len(msgs), nil
}

func newMessage(aggregateType, aggregateID, eventType string, payload any) (domain.OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}, nil
}
