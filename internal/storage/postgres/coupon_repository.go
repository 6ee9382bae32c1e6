package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const couponColumns = `
	code, kind, value, expires_at, min_order_amount, max_uses, uses_count,
	restricted_to_user_id, is_active, created_at, updated_at`

type couponRepository struct {
	q    queryer
	inTx bool
}

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository вне транзакции.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{q: store.DB()}
}

func (r *couponRepository) Create(ctx context.Context, c domain.Coupon) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	c.Code = domain.NormalizeCouponCode(c.Code)
	return atomically(ctx, r.q, r.inTx, func(q queryer) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO coupons (`+couponColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			c.Code, string(c.Kind), c.Value, c.ExpiresAt, c.MinOrderAmount, c.MaxUses, c.UsesCount,
			c.RestrictedToUserID, c.IsActive, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrCouponCodeTaken
			}
			return fmt.Errorf("insert coupon: %w", err)
		}

		for _, userID := range c.UsedByUserIDs {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO coupon_redemptions (code, user_id, redeemed_at)
				VALUES ($1,$2,$3)
				ON CONFLICT DO NOTHING
			`, c.Code, userID, c.UpdatedAt); err != nil {
				return fmt.Errorf("insert coupon redemption: %w", err)
			}
		}
		return nil
	})
}

func (r *couponRepository) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	return r.get(ctx, code, false)
}

// GetForUpdate блокирует строку купона до конца транзакции.
func (r *couponRepository) GetForUpdate(ctx context.Context, code string) (domain.Coupon, error) {
	return r.get(ctx, code, r.inTx)
}

func (r *couponRepository) get(ctx context.Context, code string, lock bool) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	code = domain.NormalizeCouponCode(code)
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	c, err := scanCoupon(r.q.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}

	users, err := r.loadRedemptions(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	c.UsedByUserIDs = users
	return c, nil
}

// Redeem списывает одно использование одним условным UPDATE.
func (r *couponRepository) Redeem(ctx context.Context, code, userID string, now time.Time) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	code = domain.NormalizeCouponCode(code)
	now = now.UTC()

	var redeemed domain.Coupon
	err := atomically(ctx, r.q, r.inTx, func(q queryer) error {
		c, err := scanCoupon(q.QueryRowContext(ctx, `
			UPDATE coupons c
			SET uses_count = c.uses_count + 1,
			    updated_at = $3
			WHERE c.code = $1
			  AND c.is_active
			  AND c.expires_at > $3
			  AND c.uses_count < c.max_uses
			  AND (
			      c.restricted_to_user_id = $2
			      OR (
			          c.restricted_to_user_id = ''
			          AND NOT EXISTS (
			              SELECT 1 FROM coupon_redemptions cr
			              WHERE cr.code = c.code AND cr.user_id = $2
			          )
			      )
			  )
			RETURNING `+couponColumns, code, userID, now))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return r.redeemFailure(ctx, q, code)
			}
			return fmt.Errorf("redeem coupon: %w", err)
		}

		if _, err := q.ExecContext(ctx, `
			INSERT INTO coupon_redemptions (code, user_id, redeemed_at)
			VALUES ($1,$2,$3)
			ON CONFLICT DO NOTHING
		`, code, userID, now); err != nil {
			return fmt.Errorf("record coupon redemption: %w", err)
		}

		redeemed = c
		return nil
	})
	if err != nil {
		return domain.Coupon{}, err
	}

	users, err := r.loadRedemptions(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	redeemed.UsedByUserIDs = users
	return redeemed, nil
}

func (r *couponRepository) redeemFailure(ctx context.Context, q queryer, code string) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`, code).Scan(&exists); err != nil {
		return fmt.Errorf("check coupon exists: %w", err)
	}
	if !exists {
		return domain.ErrCouponNotFound
	}
	return domain.ErrCouponExhausted
}

func (r *couponRepository) Deactivate(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE coupons
		SET is_active = FALSE,
		    updated_at = $2
		WHERE code = $1
	`, domain.NormalizeCouponCode(code), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate coupon: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

func (r *couponRepository) loadRedemptions(ctx context.Context, code string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT user_id
		FROM coupon_redemptions
		WHERE code = $1
		ORDER BY redeemed_at ASC, user_id ASC
	`, code)
	if err != nil {
		return nil, fmt.Errorf("load coupon redemptions: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan coupon redemption: %w", err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupon redemptions: %w", err)
	}
	return users, nil
}

func scanCoupon(row rowScanner) (domain.Coupon, error) {
	var (
		c    domain.Coupon
		kind string
	)
	if err := row.Scan(
		&c.Code, &kind, &c.Value, &c.ExpiresAt, &c.MinOrderAmount, &c.MaxUses, &c.UsesCount,
		&c.RestrictedToUserID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return domain.Coupon{}, err
	}
	c.Kind = domain.CouponKind(kind)
	return c, nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
