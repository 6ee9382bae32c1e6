package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// ProducerConfig — параметры подключения к кластеру.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
}

// Producer отправляет записи в Kafka синхронно с подтверждением от всех реплик.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer подключается к брокерам. Producer идемпотентен, поэтому повтор
// отправки из outbox не создаёт дубликатов внутри одной сессии.
func NewProducer(cfg ProducerConfig, logger *log.Entry) (*Producer, error) {
	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1

	sp, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(sp, logger), nil
}

func newProducer(sp sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: sp, logger: logger}
}

// rejected — ошибки брокера, при которых повтор той же записи бесполезен.
var rejected = []error{
	sarama.ErrMessageSizeTooLarge,
	sarama.ErrInvalidMessage,
	sarama.ErrInvalidTopic,
	sarama.ErrTopicAuthorizationFailed,
}

// Send отправляет одну запись. Окончательный отказ брокера оборачивается в domain.ErrEventRejected.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	logger := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.WithError(err).Warn("kafka send failed")
		for _, r := range rejected {
			if errors.Is(err, r) {
				return fmt.Errorf("send to %s: %w: %w", topic, domain.ErrEventRejected, err)
			}
		}
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	logger.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka record sent")
	return nil
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
