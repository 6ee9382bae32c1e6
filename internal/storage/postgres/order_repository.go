package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const orderColumns = `
	id, buyer_id,
	billing_first_name, billing_last_name, billing_email, billing_phone,
	subtotal, discount_amount, tax_amount, total_amount,
	payment_method, payment_status, status,
	applied_coupon_code, transaction_id, version, created_at, updated_at`

type orderRepository struct {
	q    queryer
	inTx bool
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository вне транзакции.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{q: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return atomically(ctx, r.q, r.inTx, func(q queryer) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		`,
			order.ID, order.BuyerID,
			order.BillingAddress.FirstName, order.BillingAddress.LastName,
			order.BillingAddress.Email, order.BillingAddress.Phone,
			order.Subtotal, order.DiscountAmount, order.TaxAmount, order.TotalAmount,
			string(order.PaymentMethod), string(order.PaymentStatus), string(order.Status),
			order.AppliedCouponCode, order.TransactionID, order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrVersionConflict
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_items (
					order_id, position, product_id, product_name, product_image,
					vendor_id, vendor_name, variant_id, variant_name, variant_duration,
					quantity, price_at_purchase, line_total
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			`,
				order.ID, i, item.ProductID, item.ProductName, item.ProductImage,
				item.VendorID, item.VendorName, item.VariantID, item.VariantName, item.VariantDuration,
				item.Quantity, item.PriceAtPurchase, item.LineTotal,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.q.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.q.QueryContext(ctx, query+" LIMIT $2", buyerID, limit)
	} else {
		rows, err = r.q.QueryContext(ctx, query, buyerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	_ = rows.Close()

	// Позиции читаются после закрытия курсора: в транзакции одно соединение.
	if len(orders) == 0 {
		return orders, nil
	}
	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	byOrder, err := r.loadItemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}

	return orders, nil
}

// Save обновляет изменяемые поля заказа. Позиции после создания не меняются.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1,
		    status = $2,
		    transaction_id = $3,
		    applied_coupon_code = $4,
		    version = version + 1,
		    updated_at = $5
		WHERE id = $6
		  AND version = $7
	`,
		string(order.PaymentStatus),
		string(order.Status),
		order.TransactionID,
		order.AppliedCouponCode,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	byOrder, err := r.loadItemsFor(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	return byOrder[orderID], nil
}

// loadItemsFor читает позиции нескольких заказов одним запросом.
func (r *orderRepository) loadItemsFor(ctx context.Context, orderIDs []string) (map[string][]domain.OrderLineItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, product_image, vendor_id, vendor_name,
		       variant_id, variant_name, variant_duration, quantity, price_at_purchase, line_total
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	byOrder := make(map[string][]domain.OrderLineItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			item    domain.OrderLineItem
		)
		if err := rows.Scan(
			&orderID, &item.ProductID, &item.ProductName, &item.ProductImage, &item.VendorID, &item.VendorName,
			&item.VariantID, &item.VariantName, &item.VariantDuration, &item.Quantity,
			&item.PriceAtPurchase, &item.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		byOrder[orderID] = append(byOrder[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return byOrder, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                         domain.Order
		method, paymentStatus, status string
	)
	if err := row.Scan(
		&order.ID, &order.BuyerID,
		&order.BillingAddress.FirstName, &order.BillingAddress.LastName,
		&order.BillingAddress.Email, &order.BillingAddress.Phone,
		&order.Subtotal, &order.DiscountAmount, &order.TaxAmount, &order.TotalAmount,
		&method, &paymentStatus, &status,
		&order.AppliedCouponCode, &order.TransactionID, &order.Version,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.PaymentMethod = domain.PaymentMethod(method)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.Status = domain.OrderStatus(status)
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
