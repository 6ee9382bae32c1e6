package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const paymentColumns = `
	id, order_id, user_id, reference, amount, refunded_amount, status,
	metadata, gateway_response, processed_at, created_at, updated_at`

type paymentRepository struct {
	q queryer
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository вне транзакции.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{q: store.DB()}
}

func (r *paymentRepository) Create(ctx context.Context, p domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	metadata, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		p.ID, p.OrderID, p.UserID, p.Reference, p.Amount, p.RefundedAmount, string(p.Status),
		metadata, p.GatewayResponse, nullableTime(p.ProcessedAt), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment reference %s already exists: %w", p.Reference, domain.ErrVersionConflict)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByReference(ctx context.Context, reference string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanPayment(r.q.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE reference = $1
	`, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return p, nil
}

func (r *paymentRepository) Save(ctx context.Context, p domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	metadata, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    refunded_amount = $2,
		    metadata = $3,
		    gateway_response = $4,
		    processed_at = $5,
		    updated_at = $6
		WHERE reference = $7
	`,
		string(p.Status), p.RefundedAmount, metadata, p.GatewayResponse,
		nullableTime(p.ProcessedAt), p.UpdatedAt, p.Reference,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// Transition обновляет строку только при ожидаемом статусе; конкурирующая транзакция
// дождётся блокировки строки и не найдёт совпадения.
func (r *paymentRepository) Transition(ctx context.Context, reference string, from, to domain.PaymentStatus, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, updated_at = $2
		WHERE reference = $3 AND status = $4
	`, string(to), at, reference, string(from))
	if err != nil {
		return fmt.Errorf("transition payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE reference = $1)`, reference).Scan(&exists); err != nil {
		return fmt.Errorf("check payment: %w", err)
	}
	if !exists {
		return domain.ErrPaymentNotFound
	}
	return fmt.Errorf("payment %s is not %s: %w", reference, from, domain.ErrPaymentStateChanged)
}

func (r *paymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC, reference DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.q.QueryContext(ctx, query+" LIMIT $2", userID, limit)
	} else {
		rows, err = r.q.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p         domain.Payment
		status    string
		metadata  []byte
		processed sql.NullTime
	)
	if err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Reference, &p.Amount, &p.RefundedAmount, &status,
		&metadata, &p.GatewayResponse, &processed, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)
	if processed.Valid {
		p.ProcessedAt = processed.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return domain.Payment{}, fmt.Errorf("decode payment metadata: %w", err)
		}
		if len(p.Metadata) == 0 {
			p.Metadata = nil
		}
	}
	return p, nil
}

func marshalMetadata(md map[string]string) (string, error) {
	if md == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode payment metadata: %w", err)
	}
	return string(raw), nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
