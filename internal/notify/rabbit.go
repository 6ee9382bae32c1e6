package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const (
	// DefaultExchange — topic exchange, из которого читает почтовый сервис.
	DefaultExchange = "marketplace.notifications"
	// CouponRoutingKey — ключ маршрутизации писем о купонах.
	CouponRoutingKey = "email.coupon"
	defaultQueue     = "marketplace.email.coupon"
)

// Channel — часть amqp.Channel, нужная notifier.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitConfig — топология публикации.
type RabbitConfig struct {
	Exchange string
	Queue    string
}

// RabbitNotifier публикует письма в RabbitMQ.
type RabbitNotifier struct {
	ch       Channel
	exchange string
	logger   *log.Entry
}

// NewRabbitNotifier объявляет exchange и очередь писем и возвращает notifier.
func NewRabbitNotifier(ch Channel, cfg RabbitConfig, logger *log.Entry) (*RabbitNotifier, error) {
	if ch == nil {
		return nil, errors.New("amqp channel is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Queue == "" {
		cfg.Queue = defaultQueue
	}
	if logger == nil {
		logger = log.WithField("component", "notify")
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, CouponRoutingKey, cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}

	return &RabbitNotifier{ch: ch, exchange: cfg.Exchange, logger: logger}, nil
}

// SendCouponEmail публикует письмо как persistent JSON-сообщение.
func (n *RabbitNotifier) SendCouponEmail(ctx context.Context, msg domain.CouponNotification) error {
	if msg.ToEmail == "" {
		return domain.ErrBillingEmailRequired
	}

	body, err := json.Marshal(NewCouponEmail(msg))
	if err != nil {
		return fmt.Errorf("marshal coupon email: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.CouponCode,
		Type:         CouponRoutingKey,
		Body:         body,
	}
	if err := n.ch.PublishWithContext(ctx, n.exchange, CouponRoutingKey, false, false, pub); err != nil {
		return fmt.Errorf("publish coupon email: %w", err)
	}

	n.logger.WithFields(log.Fields{"coupon": msg.CouponCode, "order_id": msg.Context.OrderID}).Debug("coupon email published")
	return nil
}

var _ domain.Notifier = (*RabbitNotifier)(nil)
