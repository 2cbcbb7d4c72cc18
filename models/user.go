package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a community member. Points is a cached projection of the
// transaction ledger; it is only ever written inside a ledger transaction,
// never edited directly. Users are soft-disabled instead of deleted so that
// historical transactions keep a valid owner.
type User struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TelegramID     *int64     `gorm:"uniqueIndex" json:"telegram_id,omitempty"`
	Username       string     `gorm:"size:64;not null" json:"username"`
	// Email is only ever written on verification, so the unique index is
	// exactly the bound-email uniqueness guarantee. Pointer so unbound
	// users don't collide on the empty string.
	Email          *string    `gorm:"size:255;uniqueIndex" json:"email,omitempty"`
	EmailVerified  bool       `gorm:"default:false" json:"email_verified"`
	PasswordHash   string     `gorm:"size:255" json:"-"`
	Points         int64      `gorm:"default:0" json:"points"`
	StreakDays     int        `gorm:"default:0" json:"streak_days"`
	MaxStreakDays  int        `gorm:"default:0" json:"max_streak_days"`
	LastCheckinDay *int64     `json:"last_checkin_day"`
	TotalCheckins  int        `gorm:"default:0" json:"total_checkins"`
	Disabled       bool       `gorm:"default:false;index" json:"disabled"`
	LastCheckinAt  *time.Time `json:"last_checkin_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
