package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimasrn/loyalty-engine/internal/admin"
	"github.com/nimasrn/loyalty-engine/internal/app"
	"github.com/nimasrn/loyalty-engine/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := config.Load(app.EnvPath(os.Args)); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := config.Get()
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN is empty, admin routes are unauthenticated")
	}

	db, err := app.OpenDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed connecting to pg")
	}
	if err := app.StartMetrics(cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to create prometheus metrics")
	}

	engine := app.NewEngine(db, cfg.AccrualRate())
	router := admin.NewRouter(admin.NewHandler(engine), admin.Options{Token: cfg.AdminToken})

	srv := &http.Server{
		Addr:         cfg.AdminListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("admin server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down admin server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("admin server forced to shutdown")
	}
}
