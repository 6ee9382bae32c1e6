package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/vendormarket/internal/health"
	"github.com/vladislavdragonenkov/vendormarket/internal/notify"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/payment"
	"github.com/vladislavdragonenkov/vendormarket/internal/storage/memory"
	"github.com/vladislavdragonenkov/vendormarket/internal/storage/mongo"
	"github.com/vladislavdragonenkov/vendormarket/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/vendormarket/internal/storage/redis"
)

const pingTimeout = 2 * time.Second

// runtimeDependencies — инфраструктура, выбранная по конфигурации.
type runtimeDependencies struct {
	store           domain.Store
	catalog         domain.ProductCatalog
	users           domain.UserDirectory
	idempotencyRepo domain.IdempotencyRepository
	gateway         domain.PaymentGateway
	notifier        domain.Notifier
	checkers        map[string]healthcheck.Checker
	closers         []func() error
}

func (d *runtimeDependencies) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}

// initRuntimeDependencies открывает хранилище, idempotency store, шлюз и notifier.
// При ошибке уже открытые ресурсы закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	deps = &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			deps.close(logger)
			deps = nil
		}
	}()

	if err := initStorage(ctx, cfg, deps, logger); err != nil {
		return nil, err
	}
	if err := initIdempotencyStore(ctx, cfg.Redis, deps, logger); err != nil {
		return nil, err
	}

	deps.gateway, err = initGateway(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := initNotifier(cfg.Rabbit, deps, logger); err != nil {
		return nil, err
	}
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	switch cfg.Storage.Driver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		catalog := memory.NewCatalog()
		seedDemoCatalog(catalog)

		deps.store = store
		deps.catalog = catalog
		deps.users = catalog
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.checkers["storage"] = healthcheck.NewPingChecker("memory", store, true)
		logger.Warn("using in-memory storage, data is lost on restart")
		return nil

	case StorageDriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return errors.New("postgres storage requires storage.postgres_dsn")
		}
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		deps.onClose(store.Close)

		if cfg.Storage.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		catalog := postgres.NewCatalog(store)
		deps.store = store
		deps.catalog = catalog
		deps.users = catalog
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.checkers["storage"] = healthcheck.NewPingChecker("postgres", store, true)
		logger.Info("postgres storage initialized")
		return nil

	case StorageDriverMongo:
		if cfg.Storage.MongoURI == "" || cfg.Storage.MongoDatabase == "" {
			return errors.New("mongo storage requires storage.mongo_uri and storage.mongo_database")
		}
		store, err := mongo.Open(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
		if err != nil {
			return err
		}
		deps.onClose(store.Close)

		if err := store.EnsureIndexes(ctx, logger); err != nil {
			return fmt.Errorf("ensure mongo indexes: %w", err)
		}

		catalog := mongo.NewCatalog(store)
		deps.store = store
		deps.catalog = catalog
		deps.users = catalog
		deps.idempotencyRepo = mongo.NewIdempotencyRepository(store)
		deps.checkers["storage"] = healthcheck.NewPingChecker("mongo", store, true)
		logger.WithField("database", cfg.Storage.MongoDatabase).Info("mongo storage initialized")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// initIdempotencyStore переключает idempotency-ключи на Redis, если он настроен.
func initIdempotencyStore(ctx context.Context, cfg RedisConfig, deps *runtimeDependencies, logger *log.Entry) error {
	if cfg.Addr == "" {
		return nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	deps.onClose(client.Close)

	repo := redisstore.NewIdempotencyRepository(client)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	deps.idempotencyRepo = repo
	deps.checkers["redis"] = healthcheck.NewPingChecker("redis", repo, false)
	logger.WithField("addr", cfg.Addr).Info("redis idempotency store initialized")
	return nil
}

func initGateway(cfg Config, logger *log.Entry) (domain.PaymentGateway, error) {
	if cfg.Paystack.SecretKey != "" {
		client, err := payment.NewPaystackClient(payment.PaystackConfig{
			SecretKey: cfg.Paystack.SecretKey,
			BaseURL:   cfg.Paystack.BaseURL,
			Timeout:   cfg.Paystack.Timeout,
		}, payment.WithPaystackLogger(logger.WithField("component", "paystack")))
		if err != nil {
			return nil, fmt.Errorf("init paystack client: %w", err)
		}
		return client, nil
	}

	if !cfg.AllowMockIntegrations {
		return nil, errors.New("paystack.secret_key is not set and mock integrations are disabled")
	}
	logger.Warn("using mock payment gateway, payments are not real")
	return payment.NewMockGateway(), nil
}

func initNotifier(cfg RabbitConfig, deps *runtimeDependencies, logger *log.Entry) error {
	notifyLogger := logger.WithField("component", "notify")
	if cfg.URL == "" {
		deps.notifier = notify.NewLogNotifier(notifyLogger)
		return nil
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	deps.onClose(conn.Close)

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	deps.onClose(ch.Close)

	notifier, err := notify.NewRabbitNotifier(ch, notify.RabbitConfig{Exchange: cfg.Exchange, Queue: cfg.Queue}, notifyLogger)
	if err != nil {
		return err
	}
	deps.notifier = notifier
	deps.checkers["rabbitmq"] = healthcheck.NewCheckFunc("rabbitmq", func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	})
	logger.Info("rabbitmq notifier initialized")
	return nil
}

// seedDemoCatalog наполняет in-memory каталог, чтобы чекаут работал без внешней БД.
func seedDemoCatalog(catalog *memory.Catalog) {
	catalog.PutVendor(domain.Vendor{ID: "demo-vendor", CompanyName: "Demo Academy", FullName: "Demo Vendor"})
	catalog.PutProduct(domain.Product{
		ID:       "demo-course",
		Name:     "Go in Production",
		VendorID: "demo-vendor",
		Photos:   []string{"https://cdn.example.com/demo-course.png"},
		Variants: []domain.Variant{
			{ID: "monthly", Name: "Monthly access", Duration: "30d", BasePrice: decimal.NewFromInt(5000)},
			{ID: "yearly", Name: "Yearly access", Duration: "365d", BasePrice: decimal.NewFromInt(50000), DiscountPercent: decimal.NewFromInt(20)},
		},
	})
}
