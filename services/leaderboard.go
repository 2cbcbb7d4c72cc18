package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/cppla/checkinhub/models"
)

// Leaderboard orderings.
const (
	OrderByBalance = "balance"
	OrderByStreak  = "streak"
)

// Leaderboard is a read-only ranking view over the user projection. It
// queries the same store instance the Points Service commits through, so it
// always reflects the latest committed transaction.
type Leaderboard struct {
	db *gorm.DB
}

// NewLeaderboard builds the view.
func NewLeaderboard(db *gorm.DB) *Leaderboard {
	return &Leaderboard{db: db}
}

// Entry is one leaderboard row.
type Entry struct {
	Rank           int    `json:"rank"`
	UserID         uint   `json:"user_id"`
	Username       string `json:"username"`
	Points         int64  `json:"points"`
	StreakDays     int    `json:"streak_days"`
	LastCheckinDay *int64 `json:"last_checkin_day"`
}

// TopN returns the top n users ordered by balance or streak. Ties break by
// earliest last check-in day (consistency beats recency), then user id.
// Soft-disabled users are excluded.
func (l *Leaderboard) TopN(ctx context.Context, n int, orderBy string) ([]Entry, error) {
	if n < 1 {
		n = 10
	}
	if n > 100 {
		n = 100
	}

	var primary string
	switch orderBy {
	case OrderByStreak:
		primary = "streak_days DESC"
	case OrderByBalance, "":
		primary = "points DESC"
	default:
		return nil, ErrInvalidAmount
	}

	var users []models.User
	err := l.db.WithContext(ctx).
		Where("disabled = ?", false).
		Order(primary).
		Order("last_checkin_day IS NULL").
		Order("last_checkin_day ASC").
		Order("id ASC").
		Limit(n).
		Find(&users).Error
	if err != nil {
		return nil, storeErr(err)
	}

	entries := make([]Entry, len(users))
	for i, u := range users {
		entries[i] = Entry{
			Rank:           i + 1,
			UserID:         u.ID,
			Username:       u.Username,
			Points:         u.Points,
			StreakDays:     u.StreakDays,
			LastCheckinDay: u.LastCheckinDay,
		}
	}
	return entries, nil
}
