package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "marketplace.order.events"
	TopicCouponEvents    = "marketplace.coupon.events"
	TopicPaymentEvents   = "marketplace.payment.events"
	TopicDeadLetterQueue = "marketplace.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers
const (
	HeaderEventType = "x-event-type"
	HeaderOutboxID  = "x-outbox-id"
)

// TopicForAggregate выбирает topic по типу агрегата события.
func TopicForAggregate(aggregateType string) string {
	switch aggregateType {
	case domain.AggregateCoupon:
		return TopicCouponEvents
	case domain.AggregatePayment:
		return TopicPaymentEvents
	default:
		return TopicOrderEvents
	}
}

// Envelope — формат сообщения в topic: метаданные outbox плюс исходный payload.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}
