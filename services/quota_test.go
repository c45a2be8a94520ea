package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/pixscaler/pixscaler-api/utils/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUsageStore struct {
	count      int
	countErr   error
	trackErr   error
	trackCalls int
}

func (s *stubUsageStore) GetUsageCount(context.Context, Subject, string, int) (int, error) {
	return s.count, s.countErr
}

func (s *stubUsageStore) TrackUsage(context.Context, Subject, string) (uint, error) {
	s.trackCalls++
	if s.trackErr != nil {
		return 0, s.trackErr
	}
	s.count++
	return 1, nil
}

func TestAdmitDeniesAtLimit(t *testing.T) {
	svc, clk := newUsageService(t)
	q := NewQuotaEvaluator(svc, 10, clk, nil, metrics.New())
	ctx := context.Background()
	subject := Subject{IPAddress: "198.51.100.10"}

	for i := 0; i < 10; i++ {
		d := q.Admit(ctx, subject, false, model.ActionImageProcessing)
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, i, d.Used)
		assert.NotZero(t, d.RecordID)
	}

	count, err := svc.GetUsageCount(ctx, subject, model.ActionImageProcessing, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 10)

	d := q.Admit(ctx, subject, false, model.ActionImageProcessing)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10, d.Used)
	assert.Equal(t, 10, d.Limit)
	assert.Equal(t, testNow.Add(time.Hour), d.ResetTime)

	count, err = svc.GetUsageCount(ctx, subject, model.ActionImageProcessing, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, count, "denied requests are not tracked")
}

func TestAdmitAllowsAgainOnceWindowClears(t *testing.T) {
	svc, clk := newUsageService(t)
	q := NewQuotaEvaluator(svc, 2, clk, nil, nil)
	ctx := context.Background()
	subject := Subject{IPAddress: "198.51.100.11"}

	q.Admit(ctx, subject, false, model.ActionImageProcessing)
	q.Admit(ctx, subject, false, model.ActionImageProcessing)
	require.False(t, q.Admit(ctx, subject, false, model.ActionImageProcessing).Allowed)

	clk.Advance(time.Hour)
	require.False(t, q.Admit(ctx, subject, false, model.ActionImageProcessing).Allowed,
		"the previous hour bucket still counts")

	clk.Advance(time.Hour)
	assert.True(t, q.Admit(ctx, subject, false, model.ActionImageProcessing).Allowed)
}

func TestAdmitAcrossHourBoundary(t *testing.T) {
	svc, clk := newUsageService(t)
	q := NewQuotaEvaluator(svc, 10, clk, nil, nil)
	ctx := context.Background()
	subject := Subject{IPAddress: "198.51.100.12"}

	clk.Set(time.Date(2026, 3, 1, 13, 59, 0, 0, time.UTC))
	for i := 0; i < 10; i++ {
		require.True(t, q.Admit(ctx, subject, false, model.ActionImageProcessing).Allowed, "request %d", i+1)
	}

	clk.Set(time.Date(2026, 3, 1, 14, 0, 30, 0, time.UTC))
	d := q.Admit(ctx, subject, false, model.ActionImageProcessing)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10, d.Used)

	clk.Set(time.Date(2026, 3, 1, 14, 59, 59, 0, time.UTC))
	assert.False(t, q.Admit(ctx, subject, false, model.ActionImageProcessing).Allowed)

	clk.Set(time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC))
	assert.True(t, q.Admit(ctx, subject, false, model.ActionImageProcessing).Allowed)
}

func TestAdmitPremiumIsExemptAndUntracked(t *testing.T) {
	store := &stubUsageStore{count: 1000}
	q := NewQuotaEvaluator(store, 10, clock.NewFakeClock(testNow), nil, nil)

	d := q.Admit(context.Background(), Subject{UserID: uintPtr(3), IPAddress: "10.0.0.3"}, true, model.ActionImageProcessing)

	assert.True(t, d.Allowed)
	assert.True(t, d.Exempt)
	assert.Zero(t, store.trackCalls)
}

func TestAdmitFailsOpen(t *testing.T) {
	storeDown := errors.New("database is locked")

	t.Run("count error", func(t *testing.T) {
		store := &stubUsageStore{countErr: storeDown}
		q := NewQuotaEvaluator(store, 10, clock.NewFakeClock(testNow), nil, nil)

		d := q.Admit(context.Background(), Subject{IPAddress: "10.0.0.4"}, false, model.ActionImageProcessing)

		assert.True(t, d.Allowed)
		assert.True(t, d.FailOpen)
		assert.Zero(t, store.trackCalls)
	})

	t.Run("track error", func(t *testing.T) {
		store := &stubUsageStore{trackErr: storeDown}
		q := NewQuotaEvaluator(store, 10, clock.NewFakeClock(testNow), nil, nil)

		d := q.Admit(context.Background(), Subject{IPAddress: "10.0.0.4"}, false, model.ActionImageProcessing)

		assert.True(t, d.Allowed)
		assert.True(t, d.FailOpen)
		assert.Equal(t, 1, store.trackCalls)
	})
}

func TestAdmitTracksBeforeReturning(t *testing.T) {
	store := &stubUsageStore{}
	q := NewQuotaEvaluator(store, 10, clock.NewFakeClock(testNow), nil, nil)

	d := q.Admit(context.Background(), Subject{IPAddress: "10.0.0.5"}, false, model.ActionImageProcessing)

	require.True(t, d.Allowed)
	assert.Equal(t, 1, store.trackCalls)
	assert.Equal(t, 1, store.count)
}
