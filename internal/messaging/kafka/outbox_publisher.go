package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// OutboxPublisher публикует outbox-сообщения в Kafka в виде Envelope.
// Ключ записи — идентификатор агрегата, так события одного заказа попадают в одну партицию.
type OutboxPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт паблишер. Пустой topic означает маршрутизацию по типу агрегата.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	return &OutboxPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}

	topic := p.topic
	if topic == "" {
		topic = TopicForAggregate(event.AggregateType)
	}
	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	value, err := json.Marshal(Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode envelope: %w", domain.ErrEventRejected, err)
	}

	return p.producer.Send(ctx, topic, key, value, map[string]string{
		HeaderEventType: event.EventType,
		HeaderOutboxID:  event.ID,
	})
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
