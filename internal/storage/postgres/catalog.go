package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// Catalog читает товары и продавцов из PostgreSQL.
type Catalog struct {
	db *sql.DB
}

// NewCatalog создаёт каталог поверх открытого хранилища.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{db: store.DB()}
}

func (c *Catalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		p      domain.Product
		photos []byte
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, name, vendor_id, photos
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.Name, &p.VendorID, &photos)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	if len(photos) > 0 {
		if err := json.Unmarshal(photos, &p.Photos); err != nil {
			return domain.Product{}, fmt.Errorf("decode product photos: %w", err)
		}
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, duration, base_price, discount_percent, selling_price
		FROM product_variants
		WHERE product_id = $1
		ORDER BY position ASC
	`, productID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("load variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.Name, &v.Duration, &v.BasePrice, &v.DiscountPercent, &v.SellingPrice); err != nil {
			return domain.Product{}, fmt.Errorf("scan variant: %w", err)
		}
		p.Variants = append(p.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return domain.Product{}, fmt.Errorf("iterate variants: %w", err)
	}

	return p, nil
}

func (c *Catalog) VendorDisplayName(ctx context.Context, vendorID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var v domain.Vendor
	err := c.db.QueryRowContext(ctx, `
		SELECT id, company_name, full_name, email
		FROM vendors
		WHERE id = $1
	`, vendorID).Scan(&v.ID, &v.CompanyName, &v.FullName, &v.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrVendorNotFound
		}
		return "", fmt.Errorf("select vendor: %w", err)
	}
	return v.DisplayName(), nil
}

// UpsertVendor сохраняет продавца.
func (c *Catalog) UpsertVendor(ctx context.Context, v domain.Vendor) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO vendors (id, company_name, full_name, email)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE
		SET company_name = EXCLUDED.company_name,
		    full_name = EXCLUDED.full_name,
		    email = EXCLUDED.email
	`, v.ID, v.CompanyName, v.FullName, v.Email); err != nil {
		return fmt.Errorf("upsert vendor: %w", err)
	}
	return nil
}

// UpsertProduct сохраняет товар и заменяет его варианты.
// Цена продажи считается из базовой цены и скидки, если не задана.
func (c *Catalog) UpsertProduct(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	photos := p.Photos
	if photos == nil {
		photos = []string{}
	}
	rawPhotos, err := json.Marshal(photos)
	if err != nil {
		return fmt.Errorf("encode product photos: %w", err)
	}

	return atomically(ctx, c.db, false, func(q queryer) error {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO products (id, name, vendor_id, photos)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name,
			    vendor_id = EXCLUDED.vendor_id,
			    photos = EXCLUDED.photos
		`, p.ID, p.Name, p.VendorID, string(rawPhotos)); err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM product_variants WHERE product_id = $1`, p.ID); err != nil {
			return fmt.Errorf("clear variants: %w", err)
		}

		for i, v := range p.Variants {
			if v.SellingPrice.IsZero() && !v.BasePrice.IsZero() {
				v.SellingPrice = domain.SellingPrice(v.BasePrice, v.DiscountPercent)
			}
			if _, err := q.ExecContext(ctx, `
				INSERT INTO product_variants (
					product_id, id, position, name, duration, base_price, discount_percent, selling_price
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`, p.ID, v.ID, i, v.Name, v.Duration, v.BasePrice, v.DiscountPercent, v.SellingPrice); err != nil {
				return fmt.Errorf("insert variant: %w", err)
			}
		}
		return nil
	})
}

var (
	_ domain.ProductCatalog = (*Catalog)(nil)
	_ domain.UserDirectory  = (*Catalog)(nil)
)
