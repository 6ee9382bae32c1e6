// Package notify доставляет покупателям письма о купонах.
package notify

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// CouponEmail — сообщение для почтового сервиса.
type CouponEmail struct {
	Template     string    `json:"template"`
	To           string    `json:"to"`
	Subject      string    `json:"subject"`
	CouponCode   string    `json:"coupon_code"`
	Kind         string    `json:"kind"`
	Value        string    `json:"value"`
	ExpiresAt    time.Time `json:"expires_at"`
	OrderID      string    `json:"order_id"`
	ProductNames string    `json:"product_names"`
	OrderTotal   string    `json:"order_total"`
}

const couponTemplate = "coupon"

// NewCouponEmail собирает письмо из уведомления.
func NewCouponEmail(n domain.CouponNotification) CouponEmail {
	return CouponEmail{
		Template:     couponTemplate,
		To:           n.ToEmail,
		Subject:      couponSubject(n),
		CouponCode:   n.CouponCode,
		Kind:         string(n.Kind),
		Value:        n.Value.String(),
		ExpiresAt:    n.ExpiresAt.UTC(),
		OrderID:      n.Context.OrderID,
		ProductNames: n.Context.ProductNames,
		OrderTotal:   n.Context.TotalAmount.String(),
	}
}

func couponSubject(n domain.CouponNotification) string {
	if n.Kind == domain.CouponKindPercentage {
		return fmt.Sprintf("Your %s%% discount coupon", n.Value.String())
	}
	return fmt.Sprintf("Your %s discount coupon", n.Value.String())
}

// LogNotifier пишет письмо в лог вместо отправки.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier для dev-окружения.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "notify")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendCouponEmail(ctx context.Context, msg domain.CouponNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ToEmail == "" {
		return domain.ErrBillingEmailRequired
	}
	email := NewCouponEmail(msg)
	n.logger.WithFields(log.Fields{
		"to":       email.To,
		"subject":  email.Subject,
		"coupon":   email.CouponCode,
		"order_id": email.OrderID,
	}).Info("coupon email")
	return nil
}

var _ domain.Notifier = (*LogNotifier)(nil)
