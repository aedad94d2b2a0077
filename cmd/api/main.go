package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/loyalty-engine/internal/app"
	"github.com/nimasrn/loyalty-engine/internal/config"
	"github.com/nimasrn/loyalty-engine/internal/handlers"
	"github.com/nimasrn/loyalty-engine/internal/idempotency"
	"github.com/nimasrn/loyalty-engine/internal/queue"
	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
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
	logger.Info("starting loyalty api", "version", version, "commit", commit, "date", date)

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

	engine := app.NewEngine(db, cfg.AccrualRate()).
		WithGuard(idempotency.NewGuard(redisAdap, app.GuardConfig(cfg)))

	// the stream only feeds reconciliation, so the API still serves without it
	events, err := queue.NewQueue(redisAdap, app.LedgerQueueConfig(cfg))
	if err != nil {
		logger.Error("failed creating ledger events queue, events are disabled", "error", err)
	} else {
		engine.Ledger().WithEvents(queue.NewLedgerPublisher(events))
	}

	s := xhttp.CreateServer()
	g := s.Router.Group("/api/v1")
	handlers.RegisterClientRoutes(g, handlers.NewClientHandler(engine))
	handlers.RegisterPartnerRoutes(g, handlers.NewPartnerHandler(engine))
	handlers.RegisterLedgerRoutes(g, handlers.NewLedgerHandler(engine))
	handlers.RegisterDealRoutes(g, handlers.NewDealHandler(engine))
	handlers.RegisterNPSRoutes(g, handlers.NewNPSHandler(engine))
	redisPing := handlers.PingFunc(func(ctx context.Context) error {
		return redisAdap.Client().Ping(ctx).Err()
	})
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": db,
		"redis":    redisPing,
	}))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err error
		if cfg.HttpPrefork {
			err = s.PreforkListenAndServe(cfg.HttpListenAddr)
		} else {
			err = s.ListenAndServe(cfg.HttpListenAddr)
		}
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
}
