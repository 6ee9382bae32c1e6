// Package pricing превращает корзину в позиции заказа и считает итоговые суммы.
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// PricedCart — позиции заказа и их сумма.
type PricedCart struct {
	Items    []domain.OrderLineItem
	Subtotal decimal.Decimal
}

// Engine разрешает позиции корзины через каталог. Побочных эффектов нет.
type Engine struct {
	catalog domain.ProductCatalog
	users   domain.UserDirectory
}

// NewEngine создаёт движок цен.
func NewEngine(catalog domain.ProductCatalog, users domain.UserDirectory) *Engine {
	return &Engine{catalog: catalog, users: users}
}

// PriceCart проверяет все позиции до первого обращения к каталогу,
// затем фиксирует цены и считает lineTotal = sellingPrice * quantity.
func (e *Engine) PriceCart(ctx context.Context, cart []domain.CartItem) (PricedCart, error) {
	if len(cart) == 0 {
		return PricedCart{}, domain.ErrItemsRequired
	}
	for i, item := range cart {
		if err := item.Validate(); err != nil {
			return PricedCart{}, fmt.Errorf("cart item %d: %w", i, err)
		}
	}

	vendorNames := make(map[string]string)
	result := PricedCart{
		Items:    make([]domain.OrderLineItem, 0, len(cart)),
		Subtotal: decimal.Zero,
	}

	for _, item := range cart {
		snapshot, err := e.snapshot(ctx, item, vendorNames)
		if err != nil {
			return PricedCart{}, err
		}

		price := snapshot.Variant.SellingPrice
		line := domain.OrderLineItem{
			ProductID:       snapshot.ProductID,
			ProductName:     snapshot.Name,
			ProductImage:    snapshot.Image,
			VendorID:        snapshot.VendorID,
			VendorName:      snapshot.VendorDisplayName,
			VariantID:       snapshot.Variant.ID,
			VariantName:     snapshot.Variant.Name,
			VariantDuration: snapshot.Variant.Duration,
			Quantity:        item.Quantity,
			PriceAtPurchase: price,
			LineTotal:       price.Mul(decimal.NewFromInt(int64(item.Quantity))),
		}
		result.Items = append(result.Items, line)
		result.Subtotal = result.Subtotal.Add(line.LineTotal)
	}

	return result, nil
}

func (e *Engine) snapshot(ctx context.Context, item domain.CartItem, vendorNames map[string]string) (domain.ProductSnapshot, error) {
	product, err := e.catalog.GetProduct(ctx, item.ProductID)
	if err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("product %s: %w", item.ProductID, err)
	}

	variant, ok := product.FindVariant(item.VariantID)
	if !ok {
		return domain.ProductSnapshot{}, fmt.Errorf("product %s variant %s: %w", item.ProductID, item.VariantID, domain.ErrVariantNotFound)
	}
	if variant.SellingPrice.IsNegative() {
		return domain.ProductSnapshot{}, fmt.Errorf("product %s variant %s: %w", item.ProductID, item.VariantID, domain.ErrAmountNegative)
	}

	vendorName, ok := vendorNames[product.VendorID]
	if !ok {
		vendorName, err = e.users.VendorDisplayName(ctx, product.VendorID)
		if err != nil {
			return domain.ProductSnapshot{}, fmt.Errorf("vendor %s: %w", product.VendorID, err)
		}
		vendorNames[product.VendorID] = vendorName
	}

	return domain.ProductSnapshot{
		ProductID:         product.ID,
		Name:              product.Name,
		Image:             product.Image(),
		VendorID:          product.VendorID,
		VendorDisplayName: vendorName,
		Variant:           variant,
	}, nil
}
