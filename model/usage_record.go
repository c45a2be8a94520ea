package model

import "time"

// AnonymousUserID marks usage rows recorded for callers without a principal.
// Stored as 0 rather than NULL so the bucket unique index also covers anonymous rows.
const AnonymousUserID uint = 0

// ActionImageProcessing is the metered action for the resize endpoint.
const ActionImageProcessing = "image_processing"

// UsageRecord holds the action count of one subject inside one hour bucket.
// At most one row exists per (user_id, ip_address, action, window_start).
type UsageRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;default:0;uniqueIndex:idx_usage_bucket,priority:1;index:idx_usage_user_id" json:"user_id"`
	IPAddress   string    `gorm:"type:varchar(45);not null;uniqueIndex:idx_usage_bucket,priority:2;index:idx_usage_ip" json:"ip_address"`
	Action      string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_usage_bucket,priority:3;index:idx_usage_action" json:"action"`
	WindowStart time.Time `gorm:"not null;uniqueIndex:idx_usage_bucket,priority:4" json:"window_start"`
	Count       int       `gorm:"not null;default:1" json:"count"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for UsageRecord
func (UsageRecord) TableName() string {
	return "usage_records"
}

// HourBucket truncates t to the start of its UTC hour.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
