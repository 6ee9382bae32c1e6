package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

type orderRepository struct {
	coll *mongo.Collection
}

// NewOrderRepository создаёт репозиторий заказов поверх коллекции orders.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{coll: store.db.Collection(collOrders)}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc, err := newOrderDoc(order)
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("order %s already exists: %w", order.ID, domain.ErrVersionConflict)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc orderDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	return doc.toDomain()
}

func (r *orderRepository) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.coll.Find(ctx, bson.M{"buyerId": buyerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": order.ID, "version": order.Version},
		bson.M{
			"$set": bson.M{
				"paymentStatus":     string(order.PaymentStatus),
				"status":            string(order.Status),
				"transactionId":     order.TransactionID,
				"appliedCouponCode": order.AppliedCouponCode,
				"updatedAt":         order.UpdatedAt.UTC(),
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	count, err := r.coll.CountDocuments(ctx, bson.M{"_id": order.ID})
	if err != nil {
		return fmt.Errorf("failed to check order exists: %w", err)
	}
	if count == 0 {
		return domain.ErrOrderNotFound
	}
	return domain.ErrVersionConflict
}

var _ domain.OrderRepository = (*orderRepository)(nil)
