package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nimasrn/loyalty-engine/internal/app"
	"github.com/nimasrn/loyalty-engine/internal/config"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
	"github.com/nimasrn/loyalty-engine/pkg/pg"
)

const usage = `usage: cli <command> [--env=path] [--dir=./migrations]

commands:
  migrate      apply pending migrations
  status       print the migration status
  reconcile    recompute every cached balance from the ledger and repair drift
`

func main() {
	defer logger.Sync()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := config.Load(app.EnvPath(os.Args)); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Get()

	dir := cfg.MigrationsDir
	if v, ok := app.Flag(os.Args, "dir"); ok {
		dir = v
	}

	var err error
	switch os.Args[1] {
	case "migrate":
		err = pg.Migrate(app.WriteConfig(cfg), dir)
	case "status":
		err = pg.MigrationStatus(app.WriteConfig(cfg), dir)
	case "reconcile":
		err = reconcile(cfg)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func reconcile(cfg *config.Config) error {
	db, err := app.OpenDB(cfg)
	if err != nil {
		return err
	}
	engine := app.NewEngine(db, cfg.AccrualRate())
	checked, repaired, err := engine.Ledger().ReconcileAll(context.Background(), 500)
	logger.Info("reconciliation finished", "checked", checked, "repaired", repaired)
	return err
}
