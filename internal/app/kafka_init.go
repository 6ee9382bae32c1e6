package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/outbox"
)

// initKafkaProducer подключается к брокерам. Пустой список брокеров не ошибка:
// события остаются в outbox до следующего запуска с Kafka.
func initKafkaProducer(cfg KafkaConfig, logger *log.Entry) (*kafka.Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Brokers, ClientID: cfg.ClientID},
		logger.WithField("component", "kafka-producer"))
	if err != nil {
		return nil, err
	}
	logger.WithField("brokers", cfg.Brokers).Info("kafka producer connected")
	return producer, nil
}

func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// newOutboxWorker связывает outbox хранилища с Kafka: события уходят в топик своего
// агрегата, недоставленные копируются в DLQ.
func newOutboxWorker(repo domain.OutboxRepository, producer *kafka.Producer, cfg OutboxConfig, logger *log.Entry) *outbox.Worker {
	return outbox.NewWorker(
		repo,
		kafka.NewOutboxPublisher(producer, ""),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.PollInterval),
		outbox.WithBatchSize(cfg.BatchSize),
		outbox.WithMaxAttempts(cfg.MaxAttempts),
		outbox.WithRetryBaseDelay(cfg.RetryDelay),
	)
}
