package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pixscaler/pixscaler-api/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AnalyticsService records product analytics events
type AnalyticsService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(db *gorm.DB, log *zap.Logger) *AnalyticsService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalyticsService{db: db, log: log}
}

// Event is one analytics occurrence before persistence.
type Event struct {
	Type      model.EventType
	UserID    *uint
	IPAddress string
	UserAgent string
	Data      map[string]interface{}
}

// Track stores an event. Failures are logged and swallowed; analytics never
// fail the request that produced them.
func (s *AnalyticsService) Track(ctx context.Context, event Event) {
	if s == nil {
		return
	}
	if err := s.insert(ctx, event); err != nil {
		s.log.Warn("failed to track analytics event",
			zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func (s *AnalyticsService) insert(ctx context.Context, event Event) error {
	row := model.AnalyticsEvent{
		EventType: event.Type,
		UserID:    event.UserID,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
	}
	if len(event.Data) > 0 {
		raw, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		row.Data = datatypes.JSON(raw)
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// EventCounts returns how many events of each type happened since the given time.
func (s *AnalyticsService) EventCounts(ctx context.Context, since time.Time) (map[model.EventType]int64, error) {
	var rows []struct {
		EventType model.EventType
		Total     int64
	}
	err := s.db.WithContext(ctx).
		Model(&model.AnalyticsEvent{}).
		Select("event_type, COUNT(*) AS total").
		Where("created_at >= ?", since.UTC()).
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	counts := make(map[model.EventType]int64, len(rows))
	for _, r := range rows {
		counts[r.EventType] = r.Total
	}
	return counts, nil
}
