package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// Store — in-memory хранилище заказов, купонов, платежей и outbox с транзакциями.
// Записи сериализуются writeMu; внутри транзакции изменения применяются сразу
// и журналируются, при ошибке журнал откатывается в обратном порядке.
// Чтения вне транзакции могут увидеть ещё не зафиксированные данные.
// writeMu удерживается всё время выполнения транзакции, включая обращение чекаута
// к платёжному шлюзу (до GatewayTimeout): медленный шлюз задерживает все записи.
// Хранилище рассчитано на dev-режим и тесты.
type Store struct {
	writeMu sync.Mutex

	mu       sync.RWMutex
	orders   map[string]domain.Order
	coupons  map[string]domain.Coupon
	payments map[string]domain.Payment
	outbox   map[string]*outboxRecord
	// outboxSeq сохраняет порядок постановки сообщений.
	outboxSeq []string
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		orders:   make(map[string]domain.Order),
		coupons:  make(map[string]domain.Coupon),
		payments: make(map[string]domain.Payment),
		outbox:   make(map[string]*outboxRecord),
	}
}

// WithinTransaction выполняет fn атомарно относительно других записей.
func (s *Store) WithinTransaction(ctx context.Context, fn domain.TxFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sess := &session{store: s, tx: true}
	defer func() {
		if p := recover(); p != nil {
			sess.rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, sess.repositories()); err != nil {
		sess.rollback()
		return err
	}
	return nil
}

// Repositories возвращает репозитории, где каждая запись выполняется отдельной транзакцией.
func (s *Store) Repositories() domain.Repositories {
	return (&session{store: s}).repositories()
}

// Ping всегда успешен; нужен для health-check.
func (s *Store) Ping(context.Context) error { return nil }

type session struct {
	store *Store
	tx    bool
	undo  []func()
}

func (sess *session) repositories() domain.Repositories {
	return domain.Repositories{
		Orders:   &orderRepository{sess: sess},
		Coupons:  &couponRepository{sess: sess},
		Payments: &paymentRepository{sess: sess},
		Outbox:   &outboxRepository{sess: sess},
	}
}

// write применяет изменение под блокировкой и запоминает обратную операцию.
func (sess *session) write(fn func() (undo func(), err error)) error {
	if !sess.tx {
		sess.store.writeMu.Lock()
		defer sess.store.writeMu.Unlock()
	}

	sess.store.mu.Lock()
	defer sess.store.mu.Unlock()

	undo, err := fn()
	if err != nil {
		return err
	}
	if sess.tx && undo != nil {
		sess.undo = append(sess.undo, undo)
	}
	return nil
}

func (sess *session) read(fn func()) {
	sess.store.mu.RLock()
	defer sess.store.mu.RUnlock()
	fn()
}

func (sess *session) rollback() {
	sess.store.mu.Lock()
	defer sess.store.mu.Unlock()

	for i := len(sess.undo) - 1; i >= 0; i-- {
		sess.undo[i]()
	}
	sess.undo = nil
}

var _ domain.Store = (*Store)(nil)
