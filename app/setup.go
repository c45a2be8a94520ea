package app

import (
	"fmt"

	"github.com/pixscaler/pixscaler-api/api"
	"github.com/pixscaler/pixscaler-api/config"
	"github.com/pixscaler/pixscaler-api/database"
	"github.com/pixscaler/pixscaler-api/router"
	"github.com/pixscaler/pixscaler-api/services"
	"github.com/pixscaler/pixscaler-api/services/cron"
	"github.com/pixscaler/pixscaler-api/utils/auth"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/pixscaler/pixscaler-api/utils/logger"
	"go.uber.org/zap"
)

// multipart framing around the largest permitted upload
const multipartOverhead = 1 << 20

func SetupAndRunServer() error {
	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		ServiceName: "pixscaler-api",
		Environment: cfg.GoEnv,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// Initialize GORM database connection
	store, err := database.StartGORM(cfg, log.Named("database"))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	if err := store.Init(); err != nil {
		_ = store.Close()
		return fmt.Errorf("run migrations: %w", err)
	}

	// Cron jobs are on unless CRON_ENABLED=false
	var cronManager *cron.CronManager
	if cfg.CronEnabled {
		db := store.GetDB()
		cronManager = cron.NewCronManager(
			db,
			services.NewUsageService(db, clock.Real()),
			auth.NewBlacklistService(db),
			cron.Options{UsageRetentionDays: cfg.UsageRetentionDays},
			log.Named("cron"),
			clock.Real(),
		)
		if err := cronManager.Start(); err != nil {
			// Don't fail the app, just log the warning
			log.Warn("failed to start cron jobs", zap.Error(err))
			cronManager = nil
		}
	}

	// Defer Closing DB and stopping cron jobs
	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
		if err := store.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}()

	if cfg.RateLimit.Disabled {
		log.Warn("rate limiting is disabled", zap.String("env", cfg.GoEnv))
	}

	server := api.NewAPIServer(
		fmt.Sprintf(":%d", cfg.Port),
		int(cfg.Upload.MaxFileSizePremium)+multipartOverhead,
		log.Named("api"),
	)

	// Setup Routes
	router.SetupRoutes(server.GetEngine(), store, cfg, log)

	return server.Run()
}
