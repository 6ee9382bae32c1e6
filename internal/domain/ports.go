package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProductCatalog отдаёт товары для чекаута.
type ProductCatalog interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// UserDirectory отдаёт сведения о продавцах.
type UserDirectory interface {
	// VendorDisplayName возвращает отображаемое имя продавца или ErrVendorNotFound.
	VendorDisplayName(ctx context.Context, vendorID string) (string, error)
}

// PaymentGateway описывает взаимодействие с платёжным провайдером.
type PaymentGateway interface {
	// CreateSession инициирует транзакцию и возвращает ссылку для оплаты.
	CreateSession(ctx context.Context, req SessionRequest) (PaymentSession, error)
	// Verify запрашивает итоговый статус транзакции.
	Verify(ctx context.Context, reference string) (Verification, error)
	// Refund возвращает средства по транзакции.
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// CouponEmailContext — сведения о заказе для письма с купоном.
type CouponEmailContext struct {
	OrderID      string
	ProductNames string
	TotalAmount  decimal.Decimal
}

// CouponNotification — письмо о новом купоне.
type CouponNotification struct {
	ToEmail    string
	CouponCode string
	Value      decimal.Decimal
	Kind       CouponKind
	ExpiresAt  time.Time
	Context    CouponEmailContext
}

// Notifier доставляет уведомления покупателю. Ошибки только логируются вызывающей стороной.
type Notifier interface {
	SendCouponEmail(ctx context.Context, n CouponNotification) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
