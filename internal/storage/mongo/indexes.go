package mongo

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes создаёт индексы, на которые опираются репозитории.
// Повторный вызов безопасен: MongoDB пропускает уже существующие индексы.
func (s *Store) EnsureIndexes(ctx context.Context, logger logrus.FieldLogger) error {
	specs := []struct {
		collection string
		model      mongo.IndexModel
	}{
		{collOrders, mongo.IndexModel{
			Keys:    bson.D{{Key: "buyerId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("buyer_created_idx"),
		}},
		{collPayments, mongo.IndexModel{
			Keys:    bson.D{{Key: "reference", Value: 1}},
			Options: options.Index().SetName("reference_unique").SetUnique(true),
		}},
		{collPayments, mongo.IndexModel{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("user_created_idx"),
		}},
		{collOutbox, mongo.IndexModel{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetName("status_created_idx"),
		}},
		{collIdempotency, mongo.IndexModel{
			Keys:    bson.D{{Key: "ttlAt", Value: 1}},
			Options: options.Index().SetName("ttl_at_expire").SetExpireAfterSeconds(0),
		}},
	}

	for _, spec := range specs {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		name, err := s.db.Collection(spec.collection).Indexes().CreateOne(ctx, spec.model)
		cancel()
		if err != nil {
			return fmt.Errorf("create index on %s: %w", spec.collection, err)
		}
		logger.WithFields(logrus.Fields{
			"collection": spec.collection,
			"index":      name,
		}).Debug("mongo index ensured")
	}
	return nil
}
