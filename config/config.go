package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Business BusinessConfig
	Wallet   WalletConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	Env            string   `env:"ENV" envDefault:"development"`
	LogLevel       string   `env:"LOG_LEVEL"`
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
}

// DatabaseConfig selects the store. An empty URL runs on the in-memory store.
type DatabaseConfig struct {
	URL         string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"DATABASE_AUTO_MIGRATE" envDefault:"true"`
}

// RedisConfig enables the stock cache, idempotency locks and the realtime
// relay. An empty address disables all three.
type RedisConfig struct {
	Addr          string `env:"REDIS_ADDR"`
	Password      string `env:"REDIS_PASSWORD"`
	DB            int    `env:"REDIS_DB" envDefault:"0"`
	RelayChannel  string `env:"REDIS_RELAY_CHANNEL" envDefault:"realtime:events"`
	SyncInventory bool   `env:"REDIS_SYNC_INVENTORY" envDefault:"true"`
}

// KafkaConfig enables the Kafka event stream. Without brokers events go
// through an in-process bus.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	TopicOrder    string   `env:"KAFKA_TOPIC_ORDER_EVENTS" envDefault:"order-events"`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"order-notification-group"`
}

type ObservabilityConfig struct {
	JaegerEndpoint string `env:"JAEGER_ENDPOINT"`
	ServiceName    string `env:"SERVICE_NAME" envDefault:"order-payment-service"`
}

type BusinessConfig struct {
	ShippingFee        string        `env:"SHIPPING_FEE" envDefault:"0"`
	PaymentTTL         time.Duration `env:"PAYMENT_TTL" envDefault:"15m"`
	CallbackTimeout    time.Duration `env:"CALLBACK_TIMEOUT" envDefault:"5s"`
	IdempotencyLockTTL time.Duration `env:"IDEMPOTENCY_LOCK_TTL" envDefault:"30s"`
	ExpirySweep        time.Duration `env:"PAYMENT_EXPIRY_SWEEP" envDefault:"1m"`
	ExpiryBatch        int           `env:"PAYMENT_EXPIRY_BATCH" envDefault:"100"`
	OutboxInterval     time.Duration `env:"OUTBOX_RELAY_INTERVAL" envDefault:"1s"`
	OutboxBatch        int           `env:"OUTBOX_RELAY_BATCH" envDefault:"100"`
}

// WalletConfig holds the merchant credentials. The wallet method is offered
// only when the partner code and secret key are set.
type WalletConfig struct {
	PartnerCode string        `env:"WALLET_PARTNER_CODE"`
	AccessKey   string        `env:"WALLET_ACCESS_KEY"`
	SecretKey   string        `env:"WALLET_SECRET_KEY"`
	Endpoint    string        `env:"WALLET_ENDPOINT" envDefault:"https://test-payment.momo.vn"`
	RedirectURL string        `env:"WALLET_REDIRECT_URL" envDefault:"http://localhost:8080/api/v1/payment/wallet/result"`
	IPNURL      string        `env:"WALLET_IPN_URL" envDefault:"http://localhost:8080/api/v1/payment/wallet/callback"`
	RequestType string        `env:"WALLET_REQUEST_TYPE" envDefault:"captureWallet"`
	Timeout     time.Duration `env:"WALLET_TIMEOUT" envDefault:"30s"`
}

func (w WalletConfig) Enabled() bool {
	return w.PartnerCode != "" && w.SecretKey != ""
}

// DefaultJWTSecret is the development signing key. Production refuses it.
const DefaultJWTSecret = "change-me"

type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET" envDefault:"change-me"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

// Load reads .env when present and parses the environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if _, err := cfg.Business.ShippingFeeDecimal(); err != nil {
		return nil, err
	}
	if cfg.Server.Env == "production" && (cfg.Auth.JWTSecret == "" || cfg.Auth.JWTSecret == DefaultJWTSecret) {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}
	return cfg, nil
}

func (b BusinessConfig) ShippingFeeDecimal() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(b.ShippingFee)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid SHIPPING_FEE %q: %w", b.ShippingFee, err)
	}
	if fee.IsNegative() {
		return decimal.Zero, fmt.Errorf("SHIPPING_FEE must not be negative")
	}
	return fee, nil
}
