package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// Catalog — in-memory каталог товаров и справочник продавцов.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	vendors  map[string]domain.Vendor
}

// NewCatalog создаёт пустой каталог.
func NewCatalog() *Catalog {
	return &Catalog{
		products: make(map[string]domain.Product),
		vendors:  make(map[string]domain.Vendor),
	}
}

// PutProduct добавляет или заменяет товар. Цена продажи считается, если не задана.
func (c *Catalog) PutProduct(p domain.Product) {
	variants := make([]domain.Variant, len(p.Variants))
	for i, v := range p.Variants {
		if v.SellingPrice.IsZero() && !v.BasePrice.IsZero() {
			v.SellingPrice = domain.SellingPrice(v.BasePrice, v.DiscountPercent)
		}
		variants[i] = v
	}
	p.Variants = variants
	p.Photos = append([]string(nil), p.Photos...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// PutVendor добавляет или заменяет продавца.
func (c *Catalog) PutVendor(v domain.Vendor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vendors[v.ID] = v
}

func (c *Catalog) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (c *Catalog) VendorDisplayName(_ context.Context, vendorID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.vendors[vendorID]
	if !ok {
		return "", domain.ErrVendorNotFound
	}
	return v.DisplayName(), nil
}

var (
	_ domain.ProductCatalog = (*Catalog)(nil)
	_ domain.UserDirectory  = (*Catalog)(nil)
)
