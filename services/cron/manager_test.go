package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pixscaler/pixscaler-api/database/dbtest"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	cutoff  time.Time
	removed int64
	err     error
}

func (f *fakePurger) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.removed, f.err
}

type fakeCleaner struct{ removed int64 }

func (f *fakeCleaner) CleanupExpiredTokens(context.Context) (int64, error) {
	return f.removed, nil
}

var cronNow = time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC)

func TestRegisterJobsRespectsRetention(t *testing.T) {
	db := dbtest.NewDB(t)

	keep := NewCronManager(db, &fakePurger{}, &fakeCleaner{}, Options{}, nil, nil)
	require.NoError(t, keep.registerJobs())
	assert.Len(t, keep.cron.Entries(), 1, "retention 0 keeps usage forever")

	purge := NewCronManager(db, &fakePurger{}, &fakeCleaner{}, Options{UsageRetentionDays: 30}, nil, nil)
	require.NoError(t, purge.registerJobs())
	assert.Len(t, purge.cron.Entries(), 2)
}

func TestPurgeUsageRecordsLogsRun(t *testing.T) {
	db := dbtest.NewDB(t)
	purger := &fakePurger{removed: 4}
	m := NewCronManager(db, purger, nil, Options{UsageRetentionDays: 7}, nil, clock.NewFakeClock(cronNow))

	m.runJob(JobPurgeUsage, m.PurgeUsageRecords)

	assert.Equal(t, cronNow.Add(-7*24*time.Hour), purger.cutoff)

	var logs []model.CronJobLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, JobPurgeUsage, logs[0].JobName)
	assert.Equal(t, model.CronStatusCompleted, logs[0].Status)
	assert.Contains(t, logs[0].Message, "purged 4 usage buckets")
	assert.NotNil(t, logs[0].CompletedAt)
	assert.JSONEq(t, `{"removed":4,"cutoff":"2026-05-03T03:00:00Z"}`, string(logs[0].Metadata))
}

func TestRunJobRecordsFailure(t *testing.T) {
	db := dbtest.NewDB(t)
	m := NewCronManager(db, &fakePurger{err: errors.New("database is locked")}, nil, Options{UsageRetentionDays: 1}, nil, clock.NewFakeClock(cronNow))

	m.runJob(JobPurgeUsage, m.PurgeUsageRecords)

	var entry model.CronJobLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, model.CronStatusFailed, entry.Status)
	assert.Contains(t, entry.ErrorMsg, "database is locked")
}

func TestCleanupTokenBlacklist(t *testing.T) {
	m := NewCronManager(dbtest.NewDB(t), nil, &fakeCleaner{removed: 2}, Options{}, nil, nil)

	msg, meta, err := m.CleanupTokenBlacklist(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "removed 2 expired blacklist entries", msg)
	assert.Equal(t, int64(2), meta["removed"])
}
