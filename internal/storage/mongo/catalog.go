package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// Catalog читает товары и продавцов из коллекций products и vendors.
type Catalog struct {
	products *mongo.Collection
	vendors  *mongo.Collection
}

// NewCatalog создаёт каталог поверх Store.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{
		products: store.db.Collection(collProducts),
		vendors:  store.db.Collection(collVendors),
	}
}

// GetProduct возвращает товар вместе с вариантами.
func (c *Catalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc productDoc
	if err := c.products.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return doc.toDomain()
}

// VendorDisplayName возвращает название компании продавца или его имя.
func (c *Catalog) VendorDisplayName(ctx context.Context, vendorID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc vendorDoc
	if err := c.vendors.FindOne(ctx, bson.M{"_id": vendorID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", domain.ErrVendorNotFound
		}
		return "", fmt.Errorf("failed to get vendor: %w", err)
	}

	v := domain.Vendor{ID: doc.ID, CompanyName: doc.CompanyName, FullName: doc.FullName, Email: doc.Email}
	return v.DisplayName(), nil
}

// UpsertVendor создаёт или обновляет продавца.
func (c *Catalog) UpsertVendor(ctx context.Context, v domain.Vendor) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc := vendorDoc{ID: v.ID, CompanyName: v.CompanyName, FullName: v.FullName, Email: v.Email}
	if _, err := c.vendors.ReplaceOne(ctx, bson.M{"_id": v.ID}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert vendor: %w", err)
	}
	return nil
}

// UpsertProduct создаёт или заменяет товар. Цена продажи считается из базовой цены и скидки, если не задана.
func (c *Catalog) UpsertProduct(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc, err := newProductDoc(p)
	if err != nil {
		return err
	}
	if _, err := c.products.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

var (
	_ domain.ProductCatalog = (*Catalog)(nil)
	_ domain.UserDirectory  = (*Catalog)(nil)
)
