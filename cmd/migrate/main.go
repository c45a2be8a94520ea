// Command migrate applies the schema and checks the database is reachable.
package main

import (
	"fmt"
	"os"

	"github.com/pixscaler/pixscaler-api/config"
	"github.com/pixscaler/pixscaler-api/database"
	"github.com/pixscaler/pixscaler-api/utils/logger"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadENV(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		ServiceName: "pixscaler-migrate",
		Environment: cfg.GoEnv,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := database.StartGORM(cfg, log.Named("database"))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := store.HealthCheck(); err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	log.Info("migrations applied", zap.String("driver", cfg.DBDriver))
	return nil
}
