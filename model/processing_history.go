package model

import "time"

// ProcessingHistory is the audit row written after each successful resize.
type ProcessingHistory struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           *uint     `gorm:"index" json:"user_id,omitempty"`
	IPAddress        string    `gorm:"type:varchar(45)" json:"ip_address"`
	OriginalFilename string    `gorm:"type:varchar(255)" json:"original_filename"`
	OriginalSize     int64     `json:"original_size"`
	OriginalWidth    int       `json:"original_width"`
	OriginalHeight   int       `json:"original_height"`
	ProcessedWidth   int       `json:"processed_width"`
	ProcessedHeight  int       `json:"processed_height"`
	ProcessedSize    int64     `json:"processed_size"`
	OutputFormat     string    `gorm:"type:varchar(10)" json:"output_format"`
	Quality          int       `json:"quality"`
	Kernel           string    `gorm:"type:varchar(20)" json:"kernel"`
	SizeReduction    float64   `json:"size_reduction"` // percent, negative when the output grew
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for ProcessingHistory
func (ProcessingHistory) TableName() string {
	return "processing_history"
}
