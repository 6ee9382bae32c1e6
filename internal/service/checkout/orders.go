package checkout

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const defaultListLimit = 100

// ListOrders возвращает заказы покупателя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, buyerID string) ([]domain.Order, error) {
	if buyerID == "" {
		return nil, domain.ErrBuyerRequired
	}
	orders, err := s.store.Repositories().Orders.ListByBuyer(ctx, buyerID, defaultListLimit)
	if err != nil {
		return nil, domain.Classify(err)
	}
	return orders, nil
}

// GetOrder возвращает заказ покупателя. Чужой заказ неотличим от отсутствующего.
func (s *Service) GetOrder(ctx context.Context, buyerID, orderID string) (domain.Order, error) {
	order, err := s.store.Repositories().Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, err
		}
		return domain.Order{}, domain.Classify(err)
	}
	if order.BuyerID != buyerID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}
