package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEmptySubject is returned when a subject carries neither a user nor an IP.
var ErrEmptySubject = errors.New("usage subject has no user id and no ip address")

// Subject identifies who performed a metered action. UserID is nil for
// anonymous callers; IPAddress is always recorded.
type Subject struct {
	UserID    *uint
	IPAddress string
}

func (s Subject) storedUserID() uint {
	if s.UserID == nil {
		return model.AnonymousUserID
	}
	return *s.UserID
}

// UsageService is the persistent counter store behind the quota evaluator.
type UsageService struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewUsageService creates a new usage service
func NewUsageService(db *gorm.DB, clk clock.Clock) *UsageService {
	if clk == nil {
		clk = clock.Real()
	}
	return &UsageService{db: db, clock: clk}
}

// GetUsageCount sums the counts of the subject's buckets for action from the
// current hour bucket and the windowHours buckets before it. A row matches
// when either the user id or the IP address matches; anonymous subjects match
// on IP only.
func (s *UsageService) GetUsageCount(ctx context.Context, subject Subject, action string, windowHours int) (int, error) {
	if subject.UserID == nil && strings.TrimSpace(subject.IPAddress) == "" {
		return 0, ErrEmptySubject
	}

	since := model.HourBucket(s.clock.Now()).Add(-time.Duration(windowHours) * time.Hour)

	query := s.db.WithContext(ctx).
		Model(&model.UsageRecord{}).
		Where("action = ? AND window_start >= ?", action, since)
	if subject.UserID != nil {
		query = query.Where("(user_id = ? OR ip_address = ?)", *subject.UserID, subject.IPAddress)
	} else {
		query = query.Where("ip_address = ?", subject.IPAddress)
	}

	var total int64
	if err := query.Select("COALESCE(SUM(count), 0)").Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to sum usage: %w", err)
	}
	return int(total), nil
}

// TrackUsage increments the subject's counter for the current hour bucket in a
// single INSERT ... ON CONFLICT DO UPDATE statement and returns the row id.
func (s *UsageService) TrackUsage(ctx context.Context, subject Subject, action string) (uint, error) {
	if subject.UserID == nil && strings.TrimSpace(subject.IPAddress) == "" {
		return 0, ErrEmptySubject
	}

	record := model.UsageRecord{
		UserID:      subject.storedUserID(),
		IPAddress:   subject.IPAddress,
		Action:      action,
		WindowStart: model.HourBucket(s.clock.Now()),
		Count:       1,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "ip_address"},
			{Name: "action"},
			{Name: "window_start"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count": gorm.Expr("usage_records.count + 1"),
		}),
	}).Create(&record).Error
	if err != nil {
		return 0, fmt.Errorf("failed to track usage: %w", err)
	}

	// The driver's last insert id is not reliable after the update branch.
	var stored model.UsageRecord
	err = s.db.WithContext(ctx).
		Select("id").
		Where("user_id = ? AND ip_address = ? AND action = ? AND window_start = ?",
			record.UserID, record.IPAddress, record.Action, record.WindowStart).
		Take(&stored).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load usage record id: %w", err)
	}
	return stored.ID, nil
}

// ResetUsage removes every usage bucket. Administrative only.
func (s *UsageService) ResetUsage(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("1 = 1").Delete(&model.UsageRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeBefore deletes buckets that started before cutoff.
func (s *UsageService) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("window_start < ?", cutoff.UTC()).
		Delete(&model.UsageRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge usage: %w", result.Error)
	}
	return result.RowsAffected, nil
}
