// Package app wires the repositories and services shared by every binary.
package app

import (
	"os"

	"github.com/nimasrn/loyalty-engine/internal/config"
	"github.com/nimasrn/loyalty-engine/internal/idempotency"
	"github.com/nimasrn/loyalty-engine/internal/queue"
	"github.com/nimasrn/loyalty-engine/internal/repository"
	"github.com/nimasrn/loyalty-engine/internal/services"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
	"github.com/nimasrn/loyalty-engine/pkg/pg"
	"github.com/nimasrn/loyalty-engine/pkg/prom"
	"github.com/nimasrn/loyalty-engine/pkg/redis"
	"github.com/shopspring/decimal"
)

// NewEngine builds the services over db. Optional collaborators such as the
// in-flight guard and the event publisher are attached by the caller.
func NewEngine(db *pg.DB, accrualRate decimal.Decimal) *services.Engine {
	clients := repository.NewClientRepository(db)
	partners := repository.NewPartnerRepository(db)
	transactions := repository.NewTransactionRepository(db)

	registry := services.NewRegistryService(clients, partners)
	deals := services.NewDealService(repository.NewDealRepository(db), registry)
	ledger := services.NewLedgerService(db, clients, transactions, deals, services.NewRatePolicy(accrualRate))
	satisfaction := services.NewSatisfactionService(repository.NewNPSRepository(db), transactions)

	return services.NewEngine(registry, deals, ledger, satisfaction)
}

// OpenDB connects the read and write pools described by c.
func OpenDB(c *config.Config) (*pg.DB, error) {
	readConf := pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
		SSLMode:  c.PostgresSSLMode,
	}
	db, err := pg.CreateReadWrite(readConf, WriteConfig(c), c.AppEnv == "dev")
	if err != nil {
		return nil, err
	}
	err = db.ConfigurePool(pg.PoolConfig{
		MaxOpenConns:    c.PostgresMaxOpenConns,
		MaxIdleConns:    c.PostgresMaxIdleConns,
		ConnMaxLifetime: c.PostgresConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func WriteConfig(c *config.Config) pg.Config {
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
		SSLMode:  c.PostgresSSLMode,
	}
}

func OpenRedis(c *config.Config) (redis.RedisAdapter, error) {
	return redis.NewRedisAdapter("default", c.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{c.RedisAddr},
		ClientName: c.AppName,
		DB:         c.RedisDatabase,
		Username:   c.RedisUsername,
		Password:   c.RedisPassword,
	})
}

// EnvPath returns the value of a --env=path argument, falling back to .env
// when that file exists.
func EnvPath(args []string) string {
	if v, ok := Flag(args, "env"); ok {
		return v
	}
	if fileExists(".env") {
		return ".env"
	}
	logger.Debug("no env file found, reading the process environment only")
	return ""
}

// LedgerQueueConfig describes the ledger events stream shared by the API
// (publisher) and the processor (consumers).
func LedgerQueueConfig(c *config.Config) queue.QueueConfig {
	return queue.QueueConfig{
		Name:              c.LedgerEventsStream,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      c.QueueConsumerName,
		MaxRetries:        c.QueueMaxRetries,
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}

func GuardConfig(c *config.Config) idempotency.Config {
	cfg := idempotency.DefaultConfig()
	if c.IdempotencyLockTTL > 0 {
		cfg.LockTTL = c.IdempotencyLockTTL
	}
	if c.IdempotencyProcessedTTL > 0 {
		cfg.ProcessedTTL = c.IdempotencyProcessedTTL
	}
	cfg.MaxRetries = c.QueueMaxRetries
	return cfg
}

// StartMetrics registers the collectors and serves them on the debug address
// when one is configured.
func StartMetrics(c *config.Config) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, c.AppEnv, c.PromNamespace); err != nil {
		return err
	}
	if c.AppDebugMetricsAddr != "" {
		go prom.ListenAndServer(c.AppDebugMetricsAddr, c.AppDebugMetricsURI)
	}
	return nil
}
