package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Product описывает товар каталога вместе с его вариантами.
type Product struct {
	ID       string
	Name     string
	VendorID string
	Photos   []string
	Variants []Variant
}

// Variant — покупаемая позиция товара со своей ценой и сроком.
type Variant struct {
	ID              string
	Name            string
	Duration        string
	BasePrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	// SellingPrice фиксируется при сохранении товара и не пересчитывается на чекауте.
	SellingPrice decimal.Decimal
}

// FindVariant ищет вариант по идентификатору.
func (p Product) FindVariant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Image возвращает первое фото товара или пустую строку.
func (p Product) Image() string {
	if len(p.Photos) == 0 {
		return ""
	}
	return p.Photos[0]
}

// Vendor — продавец маркетплейса.
type Vendor struct {
	ID          string
	CompanyName string
	FullName    string
	Email       string
}

// DisplayName возвращает название компании, а если его нет, то имя продавца.
func (v Vendor) DisplayName() string {
	if name := strings.TrimSpace(v.CompanyName); name != "" {
		return name
	}
	return strings.TrimSpace(v.FullName)
}

// ProductSnapshot — срез товара, варианта и продавца на момент чекаута.
type ProductSnapshot struct {
	ProductID         string
	Name              string
	Image             string
	VendorID          string
	VendorDisplayName string
	Variant           Variant
}

// CartItem — позиция корзины, переданная покупателем.
type CartItem struct {
	ProductID string
	VariantID string
	Quantity  int
}

// Validate проверяет позицию без обращения к каталогу.
func (c CartItem) Validate() error {
	switch {
	case c.Quantity <= 0:
		return ErrItemQtyInvalid
	case strings.TrimSpace(c.ProductID) == "":
		return ErrProductIDRequired
	case strings.TrimSpace(c.VariantID) == "":
		return ErrVariantIDRequired
	default:
		return nil
	}
}
