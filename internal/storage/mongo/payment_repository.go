package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

type paymentRepository struct {
	coll *mongo.Collection
}

// NewPaymentRepository создаёт репозиторий платежей с уникальным reference.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{coll: store.db.Collection(collPayments)}
}

func (r *paymentRepository) Create(ctx context.Context, p domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc, err := newPaymentDoc(p)
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("payment %s already exists: %w", p.Reference, domain.ErrVersionConflict)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByReference(ctx context.Context, reference string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc paymentDoc
	if err := r.coll.FindOne(ctx, bson.M{"reference": reference}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("failed to get payment: %w", err)
	}
	return doc.toDomain()
}

func (r *paymentRepository) Save(ctx context.Context, p domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc, err := newPaymentDoc(p)
	if err != nil {
		return err
	}
	set := bson.M{
		"status":          doc.Status,
		"refundedAmount":  doc.RefundedAmount,
		"metadata":        doc.Metadata,
		"gatewayResponse": doc.GatewayResponse,
		"processedAt":     doc.ProcessedAt,
		"updatedAt":       doc.UpdatedAt,
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"reference": p.Reference}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// Transition меняет статус с фильтром по текущему значению. Конфликт записи с другой
// транзакцией означает, что платёж уже забрал параллельный запрос.
func (r *paymentRepository) Transition(ctx context.Context, reference string, from, to domain.PaymentStatus, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"reference": reference, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updatedAt": at}},
	)
	if err != nil {
		if isWriteConflict(err) {
			return fmt.Errorf("payment %s: %w", reference, domain.ErrPaymentStateChanged)
		}
		return fmt.Errorf("failed to transition payment: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	count, err := r.coll.CountDocuments(ctx, bson.M{"reference": reference})
	if err != nil {
		return fmt.Errorf("failed to check payment: %w", err)
	}
	if count == 0 {
		return domain.ErrPaymentNotFound
	}
	return fmt.Errorf("payment %s is not %s: %w", reference, from, domain.ErrPaymentStateChanged)
}

func (r *paymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.coll.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	var docs []paymentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode payments: %w", err)
	}

	payments := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
