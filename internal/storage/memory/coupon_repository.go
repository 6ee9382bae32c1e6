package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

type couponRepository struct {
	sess *session
}

func (r *couponRepository) Create(_ context.Context, c domain.Coupon) error {
	c.Code = domain.NormalizeCouponCode(c.Code)
	return r.sess.write(func() (func(), error) {
		coupons := r.sess.store.coupons
		if _, exists := coupons[c.Code]; exists {
			return nil, domain.ErrCouponCodeTaken
		}
		coupons[c.Code] = c.Clone()
		return func() { delete(coupons, c.Code) }, nil
	})
}

func (r *couponRepository) GetByCode(_ context.Context, code string) (domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	var (
		c  domain.Coupon
		ok bool
	)
	r.sess.read(func() {
		c, ok = r.sess.store.coupons[code]
	})
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return c.Clone(), nil
}

// GetForUpdate совпадает с GetByCode: транзакции и так сериализованы.
func (r *couponRepository) GetForUpdate(ctx context.Context, code string) (domain.Coupon, error) {
	return r.GetByCode(ctx, code)
}

func (r *couponRepository) Redeem(_ context.Context, code, userID string, now time.Time) (domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	var redeemed domain.Coupon
	err := r.sess.write(func() (func(), error) {
		coupons := r.sess.store.coupons
		current, ok := coupons[code]
		if !ok {
			return nil, domain.ErrCouponNotFound
		}
		if !redeemable(current, userID, now) {
			return nil, domain.ErrCouponExhausted
		}

		next := current.Clone()
		next.UsesCount++
		if !next.UsedBy(userID) {
			next.UsedByUserIDs = append(next.UsedByUserIDs, userID)
		}
		next.UpdatedAt = now.UTC()
		coupons[code] = next
		redeemed = next.Clone()
		return func() { coupons[code] = current }, nil
	})
	return redeemed, err
}

func (r *couponRepository) Deactivate(_ context.Context, code string) error {
	code = domain.NormalizeCouponCode(code)
	return r.sess.write(func() (func(), error) {
		coupons := r.sess.store.coupons
		current, ok := coupons[code]
		if !ok {
			return nil, domain.ErrCouponNotFound
		}
		next := current.Clone()
		next.IsActive = false
		next.UpdatedAt = time.Now().UTC()
		coupons[code] = next
		return func() { coupons[code] = current }, nil
	})
}

// redeemable повторяет условие атомарного списания, общее для всех хранилищ.
func redeemable(c domain.Coupon, userID string, now time.Time) bool {
	if !c.Consumable(now) {
		return false
	}
	if c.Restricted() {
		return c.RestrictedToUserID == userID
	}
	return !c.UsedBy(userID)
}

var _ domain.CouponRepository = (*couponRepository)(nil)
