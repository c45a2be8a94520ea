package model

import (
	"time"

	"gorm.io/datatypes"
)

// EventType represents the type of tracked analytics event
type EventType string

const (
	EventTypeRegister     EventType = "register"
	EventTypeLogin        EventType = "login"
	EventTypeImageResize  EventType = "image_resize"
	EventTypePasswordSwap EventType = "password_change"
)

// AnalyticsEvent is a best-effort product analytics row.
type AnalyticsEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	EventType EventType      `gorm:"type:varchar(50);not null;index:idx_event_type" json:"event_type"`
	UserID    *uint          `gorm:"index" json:"user_id,omitempty"`
	IPAddress string         `gorm:"type:varchar(45)" json:"ip_address"`
	UserAgent string         `gorm:"type:text" json:"user_agent"`
	Data      datatypes.JSON `json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"index:idx_event_created_at" json:"created_at"`
}

// TableName specifies the table name for AnalyticsEvent
func (AnalyticsEvent) TableName() string {
	return "analytics_events"
}
