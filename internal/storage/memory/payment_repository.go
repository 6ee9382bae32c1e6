package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

type paymentRepository struct {
	sess *session
}

func (r *paymentRepository) Create(_ context.Context, p domain.Payment) error {
	return r.sess.write(func() (func(), error) {
		payments := r.sess.store.payments
		if _, exists := payments[p.Reference]; exists {
			return nil, fmt.Errorf("payment reference %s already exists: %w", p.Reference, domain.ErrVersionConflict)
		}
		payments[p.Reference] = p.Clone()
		return func() { delete(payments, p.Reference) }, nil
	})
}

func (r *paymentRepository) GetByReference(_ context.Context, reference string) (domain.Payment, error) {
	var (
		p  domain.Payment
		ok bool
	)
	r.sess.read(func() {
		p, ok = r.sess.store.payments[reference]
	})
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return p.Clone(), nil
}

func (r *paymentRepository) Save(_ context.Context, p domain.Payment) error {
	return r.sess.write(func() (func(), error) {
		payments := r.sess.store.payments
		current, ok := payments[p.Reference]
		if !ok {
			return nil, domain.ErrPaymentNotFound
		}
		payments[p.Reference] = p.Clone()
		return func() { payments[p.Reference] = current }, nil
	})
}

func (r *paymentRepository) Transition(_ context.Context, reference string, from, to domain.PaymentStatus, at time.Time) error {
	return r.sess.write(func() (func(), error) {
		payments := r.sess.store.payments
		current, ok := payments[reference]
		if !ok {
			return nil, domain.ErrPaymentNotFound
		}
		if current.Status != from {
			return nil, fmt.Errorf("payment %s is %s, want %s: %w", reference, current.Status, from, domain.ErrPaymentStateChanged)
		}
		next := current.Clone()
		next.Status = to
		next.UpdatedAt = at
		payments[reference] = next
		return func() { payments[reference] = current }, nil
	})
}

func (r *paymentRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Payment, error) {
	var result []domain.Payment
	r.sess.read(func() {
		for _, p := range r.sess.store.payments {
			if p.UserID == userID {
				result = append(result, p.Clone())
			}
		}
	})

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Reference > result[j].Reference
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
