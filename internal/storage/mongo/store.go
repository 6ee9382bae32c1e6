// Package mongo — хранилище маркетплейса в MongoDB.
// Транзакции требуют replica set; на standalone-сервере WithinTransaction вернёт ошибку драйвера.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const (
	collOrders      = "orders"
	collCoupons     = "coupons"
	collPayments    = "payments"
	collOutbox      = "outbox_messages"
	collIdempotency = "idempotency_keys"
	collProducts    = "products"
	collVendors     = "vendors"

	opTimeout = 5 * time.Second

	// writeConflictCode — код WriteConflict: документ уже изменён другой открытой транзакцией.
	writeConflictCode = 112
)

// Store держит подключение к базе MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open подключается к MongoDB и проверяет доступность сервера.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Store{client: client, db: client.Database(database)}, nil
}

// Database возвращает используемую базу.
func (s *Store) Database() *mongo.Database {
	return s.db
}

// Ping проверяет доступность сервера.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("mongo store is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Ping(pingCtx, nil)
}

// Close закрывает подключение.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Repositories возвращает репозитории. Внутри WithinTransaction сессия
// передаётся через контекст, поэтому те же репозитории работают и в транзакции.
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Orders:   NewOrderRepository(s),
		Coupons:  NewCouponRepository(s),
		Payments: NewPaymentRepository(s),
		Outbox:   NewOutboxRepository(s),
	}
}

// WithinTransaction выполняет fn в multi-document транзакции.
// Транзакция не перезапускается автоматически: fn может обращаться к внешним системам.
func (s *Store) WithinTransaction(ctx context.Context, fn domain.TxFunc) error {
	if s == nil || s.client == nil {
		return errors.New("mongo store is not initialized")
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start mongo session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(txOpts); err != nil {
			return fmt.Errorf("start mongo transaction: %w", err)
		}

		defer func() {
			if p := recover(); p != nil {
				_ = sc.AbortTransaction(context.WithoutCancel(sc))
				panic(p)
			}
		}()

		if err := fn(sc, s.Repositories()); err != nil {
			if abortErr := sc.AbortTransaction(context.WithoutCancel(sc)); abortErr != nil {
				return errors.Join(err, fmt.Errorf("abort mongo transaction: %w", abortErr))
			}
			return err
		}

		if err := sc.CommitTransaction(sc); err != nil {
			return fmt.Errorf("commit mongo transaction: %w", err)
		}
		return nil
	})
}

func isWriteConflict(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(writeConflictCode)
}

var _ domain.Store = (*Store)(nil)
