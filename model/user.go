package model

import (
	"time"

	"gorm.io/gorm"
)

// User represents a registered account. Premium status is derived at request
// time from IsPremium and PremiumExpiresAt.
type User struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
	Email            string         `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash     string         `gorm:"not null" json:"-"` // Never expose password in JSON
	Name             string         `gorm:"not null" json:"name"`
	IsPremium        bool           `gorm:"default:false" json:"is_premium"`
	PremiumExpiresAt *time.Time     `json:"premium_expires_at,omitempty"`
	SubscriptionID   string         `gorm:"type:varchar(100)" json:"-"`
	EmailVerified    bool           `gorm:"default:false" json:"email_verified"`
	TokenVersion     int            `gorm:"default:0" json:"-"` // Increment to invalidate all user tokens
}

// HasActivePremium reports whether the user is exempt from the free tier quota:
// the premium flag is set and either there is no expiry or it lies after now.
func (u *User) HasActivePremium(now time.Time) bool {
	if u == nil || !u.IsPremium {
		return false
	}
	if u.PremiumExpiresAt == nil {
		return true
	}
	return u.PremiumExpiresAt.After(now)
}
