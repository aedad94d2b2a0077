package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var config *Config

// Config holds every configuration value of the loyalty binaries. Nothing
// else reads the environment directly.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=loyalty_engine"`
	AppDebug            bool   `env:"APP_DEBUG,default=1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`

	HttpListenAddr  string `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpPrefork     bool   `env:"HTTP_PREFORK"`
	AdminListenAddr string `env:"ADMIN_LISTEN_ADDR,default=:8081"`
	AdminToken      string `env:"ADMIN_TOKEN"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresSSLMode       string `env:"POSTGRES_SSL_MODE,default=disable"`

	PostgresMaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS,default=50"`
	PostgresMaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS,default=10"`
	PostgresConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME,default=30m"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=loyalty:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=loyalty"`

	MigrationsDir string `env:"MIGRATIONS_DIR,default=migrations"`

	// points per currency unit before any deal rate is applied
	LedgerAccrualRate  string `env:"LEDGER_ACCRUAL_RATE,default=0.05"`
	LedgerEventsStream string `env:"LEDGER_EVENTS_STREAM,default=ledger-events"`

	DealSweepInterval time.Duration `env:"DEAL_SWEEP_INTERVAL,default=5m"`

	IdempotencyLockTTL      time.Duration `env:"IDEMPOTENCY_LOCK_TTL,default=30s"`
	IdempotencyProcessedTTL time.Duration `env:"IDEMPOTENCY_PROCESSED_TTL,default=24h"`

	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=reconcilers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME,default=processor"`
	QueueConsumers         int           `env:"QUEUE_CONSUMERS,default=2"`
	QueueWorkers           int           `env:"QUEUE_WORKERS,default=16"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=200ms"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=50"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to configuration")
	}
	if _, err := decimal.NewFromString(c.LedgerAccrualRate); err != nil {
		return errors.Wrapf(err, "invalid LEDGER_ACCRUAL_RATE %q", c.LedgerAccrualRate)
	}

	config = c
	return nil
}

// Set installs an already built configuration; used by tests and tools that
// do not read the environment.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

func (c *Config) AccrualRate() decimal.Decimal {
	return decimal.RequireFromString(c.LedgerAccrualRate)
}
