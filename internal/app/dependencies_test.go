package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/vendormarket/internal/health"
	"github.com/vladislavdragonenkov/vendormarket/internal/notify"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/payment"
	redisstore "github.com/vladislavdragonenkov/vendormarket/internal/storage/redis"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	cfg := testConfig(t)
	logger := log.WithField("test", "memory-storage")

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	defer deps.close(logger)

	if deps.store == nil || deps.catalog == nil || deps.users == nil || deps.idempotencyRepo == nil {
		t.Fatalf("memory dependencies must be initialized: %+v", deps)
	}
	if _, ok := deps.gateway.(*payment.MockGateway); !ok {
		t.Fatalf("expected mock gateway, got %T", deps.gateway)
	}
	if _, ok := deps.notifier.(*notify.LogNotifier); !ok {
		t.Fatalf("expected log notifier, got %T", deps.notifier)
	}
	if check := deps.checkers["storage"].Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage, got %+v", check)
	}

	product, err := deps.catalog.GetProduct(context.Background(), "demo-course")
	if err != nil {
		t.Fatalf("demo catalog must be seeded: %v", err)
	}
	if v, ok := product.FindVariant("yearly"); !ok || v.SellingPrice.IsZero() {
		t.Fatalf("expected selling price on seeded variant, got %+v", v)
	}
}

func TestInitRuntimeDependencies_StorageErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = StorageDriverPostgres }},
		{name: "mongo without uri", mutate: func(c *Config) { c.Storage.Driver = StorageDriverMongo; c.Storage.MongoURI = "" }},
		{name: "unsupported driver", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)

			deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", tt.name))
			if err == nil {
				t.Fatal("expected storage init error")
			}
			if deps != nil {
				t.Fatal("dependencies must be nil on error")
			}
		})
	}
}

func TestInitRuntimeDependencies_RedisIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()
	logger := log.WithField("test", "redis")

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies(redis) failed: %v", err)
	}
	defer deps.close(logger)

	if _, ok := deps.idempotencyRepo.(*redisstore.IdempotencyRepository); !ok {
		t.Fatalf("expected redis idempotency repo, got %T", deps.idempotencyRepo)
	}
	if _, ok := deps.checkers["redis"]; !ok {
		t.Fatal("expected redis health checker")
	}

	mr.Close()
	if check := deps.checkers["redis"].Check(context.Background()); check.Status != healthcheck.StatusDegraded {
		t.Fatalf("redis outage must degrade, got %+v", check)
	}
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Redis.Addr = addr

	if _, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "redis-down")); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestInitGateway(t *testing.T) {
	logger := log.WithField("test", "gateway")

	cfg := testConfig(t)
	cfg.Paystack.SecretKey = "sk_test_123"
	gw, err := initGateway(cfg, logger)
	if err != nil {
		t.Fatalf("initGateway(paystack) failed: %v", err)
	}
	if _, ok := gw.(*payment.PaystackClient); !ok {
		t.Fatalf("expected paystack client, got %T", gw)
	}

	cfg = testConfig(t)
	cfg.AllowMockIntegrations = false
	if _, err := initGateway(cfg, logger); err == nil {
		t.Fatal("expected error when neither paystack key nor mock is allowed")
	}
}

func TestRuntimeDependencies_CloseOrder(t *testing.T) {
	var order []string
	deps := &runtimeDependencies{}
	deps.onClose(func() error { order = append(order, "first"); return nil })
	deps.onClose(func() error { order = append(order, "second"); return domain.ErrOutboxPublish })

	deps.close(log.WithField("test", "close"))
	deps.close(log.WithField("test", "close"))

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected reverse close order once, got %v", order)
	}
}
