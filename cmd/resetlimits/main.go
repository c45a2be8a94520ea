// Command resetlimits clears recorded quota usage.
//
// Usage:
//
//	go run ./cmd/resetlimits                 # delete every usage bucket
//	go run ./cmd/resetlimits -older-than 72h # keep the last three days
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pixscaler/pixscaler-api/config"
	"github.com/pixscaler/pixscaler-api/database"
	"github.com/pixscaler/pixscaler-api/services"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/pixscaler/pixscaler-api/utils/logger"
	"go.uber.org/zap"
)

func main() {
	olderThan := flag.Duration("older-than", 0, "only delete buckets that started more than this long ago")
	timeout := flag.Duration("timeout", time.Minute, "abort if the reset takes longer than this")
	flag.Parse()

	if err := run(*olderThan, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "resetlimits:", err)
		os.Exit(1)
	}
}

func run(olderThan, timeout time.Duration) error {
	if err := config.LoadENV(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		ServiceName: "pixscaler-resetlimits",
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
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clk := clock.Real()
	usage := services.NewUsageService(store.GetDB(), clk)

	var deleted int64
	if olderThan > 0 {
		cutoff := clk.Now().Add(-olderThan)
		deleted, err = usage.PurgeBefore(ctx, cutoff)
		log.Info("purged usage buckets", zap.Time("cutoff", cutoff), zap.Int64("deleted", deleted))
	} else {
		deleted, err = usage.ResetUsage(ctx)
		log.Info("reset all usage buckets", zap.Int64("deleted", deleted))
	}
	return err
}
