package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/vendormarket/internal/coupon"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/checkout"
)

const (
	// EnvPrefix — префикс переменных окружения; "__" разделяет уровни вложенности.
	EnvPrefix = "MARKET_"
	// EnvConfigFile задаёт путь к YAML-файлу конфигурации.
	EnvConfigFile = "CONFIG_FILE"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverMongo    = "mongo"
)

// StorageConfig — выбор и параметры хранилища.
type StorageConfig struct {
	Driver              string `koanf:"driver" validate:"oneof=memory postgres mongo"`
	PostgresDSN         string `koanf:"postgres_dsn" validate:"required_if=Driver postgres"`
	PostgresAutoMigrate bool   `koanf:"postgres_auto_migrate"`
	MongoURI            string `koanf:"mongo_uri" validate:"required_if=Driver mongo"`
	MongoDatabase       string `koanf:"mongo_database" validate:"required_if=Driver mongo"`
}

// RedisConfig — хранилище idempotency-ключей. Пустой Addr отключает Redis.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// IdempotencyConfig — срок жизни ключей и их очистка.
type IdempotencyConfig struct {
	KeyTTL           time.Duration `koanf:"key_ttl" validate:"gt=0"`
	CleanupInterval  time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
	CleanupBatchSize int           `koanf:"cleanup_batch_size" validate:"gt=0"`
}

// KafkaConfig — публикация событий outbox. Пустой Brokers отключает Kafka и outbox worker.
type KafkaConfig struct {
	Brokers  []string `koanf:"brokers"`
	ClientID string   `koanf:"client_id"`
}

// OutboxConfig — параметры outbox worker.
type OutboxConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
	BatchSize    int           `koanf:"batch_size" validate:"gt=0"`
	MaxAttempts  int           `koanf:"max_attempts" validate:"gt=0"`
	RetryDelay   time.Duration `koanf:"retry_delay" validate:"gte=0"`
}

// RabbitConfig — доставка писем. Пустой URL включает log notifier.
type RabbitConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
	Queue    string `koanf:"queue"`
}

// PaystackConfig — платёжный шлюз.
type PaystackConfig struct {
	SecretKey string        `koanf:"secret_key"`
	BaseURL   string        `koanf:"base_url" validate:"omitempty,url"`
	Timeout   time.Duration `koanf:"timeout" validate:"gte=0"`
}

// CheckoutConfig — налоги и купон лояльности. Суммы задаются строками.
type CheckoutConfig struct {
	TaxRate         string        `koanf:"tax_rate" validate:"required"`
	LoyaltyPercent  string        `koanf:"loyalty_percent" validate:"required"`
	LoyaltyMinOrder string        `koanf:"loyalty_min_order" validate:"required"`
	LoyaltyValidity time.Duration `koanf:"loyalty_validity" validate:"gt=0"`
	LoyaltyMaxUses  int           `koanf:"loyalty_max_uses" validate:"gt=0"`
	LoyaltyPrefix   string        `koanf:"loyalty_prefix"`
	GatewayTimeout  time.Duration `koanf:"gateway_timeout" validate:"gt=0"`
	NotifyTimeout   time.Duration `koanf:"notify_timeout" validate:"gt=0"`
}

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string `koanf:"http_addr" validate:"required"`
	GRPCAddr    string `koanf:"grpc_addr" validate:"required"`
	MetricsAddr string `koanf:"metrics_addr" validate:"required"`
	// PublicBaseURL используется для callback URL платёжного шлюза.
	PublicBaseURL string `koanf:"public_base_url" validate:"required,url"`
	JWTSecret     string `koanf:"jwt_secret" validate:"required"`
	// AllowMockIntegrations разрешает mock-шлюз, если ключ Paystack не задан.
	AllowMockIntegrations bool          `koanf:"allow_mock_integrations"`
	ShutdownTimeout       time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	LogLevel              string        `koanf:"log_level"`

	Storage     StorageConfig     `koanf:"storage"`
	Redis       RedisConfig       `koanf:"redis"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Kafka       KafkaConfig       `koanf:"kafka"`
	Outbox      OutboxConfig      `koanf:"outbox"`
	Rabbit      RabbitConfig      `koanf:"rabbitmq"`
	Paystack    PaystackConfig    `koanf:"paystack"`
	Checkout    CheckoutConfig    `koanf:"checkout"`
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	loyalty := coupon.DefaultLoyaltyPolicy()
	checkoutDefaults := checkout.DefaultConfig()

	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		MetricsAddr:     ":9090",
		PublicBaseURL:   "http://localhost:8080",
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		Storage: StorageConfig{
			Driver:              StorageDriverMemory,
			PostgresAutoMigrate: true,
			MongoDatabase:       "marketplace",
		},
		Idempotency: IdempotencyConfig{
			KeyTTL:           24 * time.Hour,
			CleanupInterval:  10 * time.Minute,
			CleanupBatchSize: 500,
		},
		Kafka: KafkaConfig{ClientID: "vendormarket"},
		Outbox: OutboxConfig{
			PollInterval: time.Second,
			BatchSize:    100,
			MaxAttempts:  3,
			RetryDelay:   100 * time.Millisecond,
		},
		Checkout: CheckoutConfig{
			TaxRate:         checkoutDefaults.TaxRate.String(),
			LoyaltyPercent:  loyalty.Percent.String(),
			LoyaltyMinOrder: loyalty.MinOrderAmount.String(),
			LoyaltyValidity: loyalty.Validity,
			LoyaltyMaxUses:  loyalty.MaxUses,
			LoyaltyPrefix:   loyalty.CodePrefix,
			GatewayTimeout:  checkoutDefaults.GatewayTimeout,
			NotifyTimeout:   checkoutDefaults.NotifyTimeout,
		},
	}
}

// LoadConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл (путь
// из CONFIG_FILE), затем переменные MARKET_*. Файл .env подхватывается, если он есть.
// Пример: MARKET_STORAGE__DRIVER=postgres, MARKET_KAFKA__BROKERS=k1:9092,k2:9092.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if path := strings.TrimSpace(os.Getenv(EnvConfigFile)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет обязательные поля и согласованность настроек.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.CheckoutSettings(); err != nil {
		return err
	}
	if c.Paystack.SecretKey == "" && !c.AllowMockIntegrations {
		return errors.New("invalid config: paystack.secret_key is required unless allow_mock_integrations is set")
	}
	return nil
}

// CheckoutSettings переводит строковые суммы в параметры сервиса чекаута.
func (c Config) CheckoutSettings() (checkout.Config, error) {
	taxRate, err := decimal.NewFromString(c.Checkout.TaxRate)
	if err != nil || taxRate.IsNegative() {
		return checkout.Config{}, fmt.Errorf("invalid config: checkout.tax_rate %q", c.Checkout.TaxRate)
	}
	percent, err := decimal.NewFromString(c.Checkout.LoyaltyPercent)
	if err != nil || percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return checkout.Config{}, fmt.Errorf("invalid config: checkout.loyalty_percent %q", c.Checkout.LoyaltyPercent)
	}
	minOrder, err := decimal.NewFromString(c.Checkout.LoyaltyMinOrder)
	if err != nil || minOrder.IsNegative() {
		return checkout.Config{}, fmt.Errorf("invalid config: checkout.loyalty_min_order %q", c.Checkout.LoyaltyMinOrder)
	}

	return checkout.Config{
		TaxRate: taxRate,
		Loyalty: coupon.LoyaltyPolicy{
			Percent:        percent,
			Validity:       c.Checkout.LoyaltyValidity,
			MinOrderAmount: minOrder,
			MaxUses:        c.Checkout.LoyaltyMaxUses,
			CodePrefix:     c.Checkout.LoyaltyPrefix,
		},
		GatewayTimeout: c.Checkout.GatewayTimeout,
		NotifyTimeout:  c.Checkout.NotifyTimeout,
		CallbackURL:    strings.TrimRight(c.PublicBaseURL, "/") + "/api/v1/payments/verify",
	}, nil
}
