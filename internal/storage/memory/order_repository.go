package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

type orderRepository struct {
	sess *session
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	return r.sess.write(func() (func(), error) {
		orders := r.sess.store.orders
		if _, exists := orders[order.ID]; exists {
			return nil, fmt.Errorf("order %s already exists: %w", order.ID, domain.ErrVersionConflict)
		}
		// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
		orders[order.ID] = order.Clone()
		return func() { delete(orders, order.ID) }, nil
	})
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	var (
		order domain.Order
		ok    bool
	)
	r.sess.read(func() {
		order, ok = r.sess.store.orders[id]
	})
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// ListByBuyer возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepository) ListByBuyer(_ context.Context, buyerID string, limit int) ([]domain.Order, error) {
	var result []domain.Order
	r.sess.read(func() {
		for _, order := range r.sess.store.orders {
			if order.BuyerID != buyerID {
				continue
			}
			result = append(result, order.Clone())
		}
	})

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepository) Save(_ context.Context, order domain.Order) error {
	return r.sess.write(func() (func(), error) {
		orders := r.sess.store.orders
		current, ok := orders[order.ID]
		if !ok {
			return nil, domain.ErrOrderNotFound
		}
		if current.Version != order.Version {
			return nil, domain.ErrVersionConflict
		}
		order = order.Clone()
		order.Version++
		orders[order.ID] = order
		return func() { orders[order.ID] = current }, nil
	})
}

var _ domain.OrderRepository = (*orderRepository)(nil)
