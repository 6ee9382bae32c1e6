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

type couponRepository struct {
	coll *mongo.Collection
}

// NewCouponRepository создаёт репозиторий купонов. Код купона служит _id.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{coll: store.db.Collection(collCoupons)}
}

func (r *couponRepository) Create(ctx context.Context, c domain.Coupon) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	c.Code = domain.NormalizeCouponCode(c.Code)
	doc, err := newCouponDoc(c)
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrCouponCodeTaken
		}
		return fmt.Errorf("failed to insert coupon: %w", err)
	}
	return nil
}

func (r *couponRepository) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc couponDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": domain.NormalizeCouponCode(code)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("failed to get coupon: %w", err)
	}
	return doc.toDomain()
}

// GetForUpdate в MongoDB читает снимок транзакции. Конкурентные списания
// разрешает условный Redeem: второй писатель получает write conflict,
// который Redeem возвращает как ErrCouponExhausted.
func (r *couponRepository) GetForUpdate(ctx context.Context, code string) (domain.Coupon, error) {
	return r.GetByCode(ctx, code)
}

func (r *couponRepository) Redeem(ctx context.Context, code, userID string, now time.Time) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	code = domain.NormalizeCouponCode(code)
	now = now.UTC()

	filter := bson.M{
		"_id":       code,
		"isActive":  true,
		"expiresAt": bson.M{"$gt": now},
		"$expr":     bson.M{"$lt": bson.A{"$usesCount", "$maxUses"}},
		"$or": bson.A{
			bson.M{"restrictedToUserId": userID},
			bson.M{"restrictedToUserId": "", "usedByUserIds": bson.M{"$ne": userID}},
		},
	}
	update := bson.M{
		"$inc":      bson.M{"usesCount": 1},
		"$addToSet": bson.M{"usedByUserIds": userID},
		"$set":      bson.M{"updatedAt": now},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc couponDoc
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toDomain()
	}
	if isWriteConflict(err) {
		return domain.Coupon{}, fmt.Errorf("coupon %s redeemed by a concurrent checkout: %w", code, domain.ErrCouponExhausted)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Coupon{}, fmt.Errorf("failed to redeem coupon: %w", err)
	}

	count, err := r.coll.CountDocuments(ctx, bson.M{"_id": code})
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("failed to check coupon exists: %w", err)
	}
	if count == 0 {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return domain.Coupon{}, domain.ErrCouponExhausted
}

func (r *couponRepository) Deactivate(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": domain.NormalizeCouponCode(code)},
		bson.M{"$set": bson.M{"isActive": false, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate coupon: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
