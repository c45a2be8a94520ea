package cron

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	JobCleanupBlacklist = "cleanup_token_blacklist"
	JobPurgeUsage       = "purge_usage_records"
)

// UsagePurger deletes usage buckets older than a cutoff.
type UsagePurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenCleaner removes expired blacklist entries.
type TokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// Options configures which maintenance jobs run.
type Options struct {
	// UsageRetentionDays > 0 enables the daily purge of older usage buckets.
	UsageRetentionDays int
	JobTimeout         time.Duration
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron    *cron.Cron
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	usage   UsagePurger
	tokens  TokenCleaner
	options Options
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, usage UsagePurger, tokens TokenCleaner, opts Options, log *zap.Logger, clk clock.Clock) *CronManager {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}

	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	return &CronManager{
		cron:    c,
		db:      db,
		log:     log.With(zap.String("component", "cron")),
		clock:   clk,
		usage:   usage,
		tokens:  tokens,
		options: opts,
	}
}

// Start registers and starts all cron jobs
func (m *CronManager) Start() error {
	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()
	m.log.Info("cron jobs started", zap.Int("jobs", len(m.cron.Entries())))
	return nil
}

// Stop stops all cron jobs and waits for running ones to finish
func (m *CronManager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info("cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// Every hour: drop blacklist entries whose tokens expired anyway
	_, err := m.cron.AddFunc("0 5 * * * *", func() {
		m.runJob(JobCleanupBlacklist, m.CleanupTokenBlacklist)
	})
	if err != nil {
		return err
	}

	// Daily at 3 AM UTC: usage retention, only when configured
	if m.options.UsageRetentionDays > 0 {
		_, err = m.cron.AddFunc("0 0 3 * * *", func() {
			m.runJob(JobPurgeUsage, m.PurgeUsageRecords)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

type jobFunc func(ctx context.Context) (string, map[string]interface{}, error)

// runJob executes fn and records its outcome in cron_job_logs.
func (m *CronManager) runJob(name string, fn jobFunc) {
	started := m.clock.Now().UTC()
	entry := model.CronJobLog{
		JobName:   name,
		Status:    model.CronStatusStarted,
		StartedAt: started,
	}
	if err := m.db.Create(&entry).Error; err != nil {
		m.log.Warn("failed to write cron log", zap.String("job", name), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.options.JobTimeout)
	defer cancel()

	message, metadata, err := fn(ctx)

	completed := m.clock.Now().UTC()
	updates := map[string]interface{}{
		"completed_at": completed,
		"duration":     completed.Sub(started).Milliseconds(),
		"message":      message,
	}
	if metadata != nil {
		if raw, mErr := json.Marshal(metadata); mErr == nil {
			updates["metadata"] = datatypes.JSON(raw)
		}
	}

	if err != nil {
		m.log.Error("cron job failed", zap.String("job", name), zap.Error(err))
		updates["status"] = model.CronStatusFailed
		updates["error_msg"] = err.Error()
	} else {
		m.log.Info("cron job completed", zap.String("job", name), zap.String("message", message))
		updates["status"] = model.CronStatusCompleted
	}

	if entry.ID == 0 {
		return
	}
	if err := m.db.Model(&model.CronJobLog{}).Where("id = ?", entry.ID).Updates(updates).Error; err != nil {
		m.log.Warn("failed to update cron log", zap.String("job", name), zap.Error(err))
	}
}
