package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping migrations")
		return
	}

	dryRun := flag.Bool("dry-run", false, "list pending migrations without applying them")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg).With(slog.String("component", "migrate"))

	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{ApplicationName: "odyssey-stock-migrate", MaxConns: 1})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if *dryRun {
		pending, err := db.Pending(ctx, pool)
		if err != nil {
			logger.Error("list pending migrations", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("pending migrations", slog.Any("versions", pending))
		return
	}

	applied, err := db.Migrate(ctx, pool, logger)
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrations complete", slog.Int("applied", len(applied)))
}
