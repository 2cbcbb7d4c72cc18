package models

import "time"

// CheckinDay marks a logical day as checked in for a user, either natively
// or through a makeup. The composite unique index is the database-level
// guard for the one-check-in-per-day rule: a concurrent duplicate insert
// fails the whole transaction before any ledger row is committed.
type CheckinDay struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex:idx_checkin_user_day;not null" json:"user_id"`
	Day       int64     `gorm:"uniqueIndex:idx_checkin_user_day;not null" json:"day"`
	Makeup    bool      `gorm:"default:false" json:"makeup"`
	CreatedAt time.Time `json:"created_at"`
}
