package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/loyalty-engine/internal/app"
	"github.com/nimasrn/loyalty-engine/internal/config"
	"github.com/nimasrn/loyalty-engine/internal/idempotency"
	"github.com/nimasrn/loyalty-engine/internal/processor"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()

	if err := config.Load(app.EnvPath(os.Args)); err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting loyalty processor", "version", version, "commit", commit, "date", date)

	db, err := app.OpenDB(cfg)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := app.OpenRedis(cfg)
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	if err := app.StartMetrics(cfg); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	engine := app.NewEngine(db, cfg.AccrualRate())
	guard := idempotency.NewGuard(redisAdap, app.GuardConfig(cfg))

	service := processor.NewProcessorService(redisAdap, processor.OptionsFromConfig(cfg))
	service.RegisterProcessor(processor.NewLedgerEventProcessor(engine.Ledger(), guard))
	service.Go(processor.NewDealSweeper(engine.Deals(), cfg.DealSweepInterval).Run)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		service.Stop()
		return
	}

	<-c
	service.Stop()
}
