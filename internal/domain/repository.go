package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByBuyer возвращает заказы покупателя, новые первыми; limit<=0 без ограничения.
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// CouponRepository описывает хранилище купонов.
type CouponRepository interface {
	// Create сохраняет купон или возвращает ErrCouponCodeTaken.
	Create(ctx context.Context, coupon Coupon) error
	// GetByCode возвращает купон или ErrCouponNotFound.
	GetByCode(ctx context.Context, code string) (Coupon, error)
	// GetForUpdate читает купон и блокирует его до конца транзакции, где хранилище это умеет.
	GetForUpdate(ctx context.Context, code string) (Coupon, error)
	// Redeem атомарно увеличивает usesCount и добавляет userID в usedByUserIds,
	// только если купон активен, не истёк, лимит не исчерпан и пользователь его ещё не применял.
	// Иначе возвращает ErrCouponExhausted.
	Redeem(ctx context.Context, code, userID string, now time.Time) (Coupon, error)
	// Deactivate снимает флаг isActive.
	Deactivate(ctx context.Context, code string) error
}

// PaymentRepository описывает хранилище платежей.
type PaymentRepository interface {
	Create(ctx context.Context, payment Payment) error
	GetByReference(ctx context.Context, reference string) (Payment, error)
	Save(ctx context.Context, payment Payment) error
	// Transition атомарно переводит платёж из статуса from в to.
	// Если текущий статус другой, возвращает ErrPaymentStateChanged.
	Transition(ctx context.Context, reference string, from, to PaymentStatus, at time.Time) error
	// ListByUser возвращает платежи пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Payment, error)
}

// Repositories — набор репозиториев, разделяющих одну транзакцию.
type Repositories struct {
	Orders   OrderRepository
	Coupons  CouponRepository
	Payments PaymentRepository
	Outbox   OutboxRepository
}

// TxFunc выполняется внутри транзакции. Возврат ошибки откатывает все изменения.
type TxFunc func(ctx context.Context, repos Repositories) error

// Transactor реализует withTransaction: commit при успехе, rollback при ошибке.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn TxFunc) error
}

// Store — хранилище с транзакциями и доступом к репозиториям вне транзакции.
type Store interface {
	Transactor
	Repositories() Repositories
}
