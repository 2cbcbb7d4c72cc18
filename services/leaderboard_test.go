package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/checkinhub/models"
)

func seedRankedUser(t *testing.T, db *gorm.DB, name string, points int64, streak int, lastDay *int64) *models.User {
	t.Helper()
	user := &models.User{Username: name, Points: points, StreakDays: streak, LastCheckinDay: lastDay}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestTopNByBalanceBreaksTiesByEarlierCheckin(t *testing.T) {
	db := newTestDB(t)
	lb := NewLeaderboard(db)
	d100, d200 := int64(100), int64(200)

	seedRankedUser(t, db, "low", 50, 1, &d200)
	late := seedRankedUser(t, db, "late", 100, 2, &d200)
	early := seedRankedUser(t, db, "early", 100, 2, &d100)

	entries, err := lb.TopN(context.Background(), 10, OrderByBalance)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, early.ID, entries[0].UserID)
	assert.Equal(t, late.ID, entries[1].UserID)
	assert.Equal(t, "low", entries[2].Username)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 3, entries[2].Rank)
}

func TestTopNByStreak(t *testing.T) {
	db := newTestDB(t)
	lb := NewLeaderboard(db)
	d := int64(150)

	seedRankedUser(t, db, "short", 500, 2, &d)
	long := seedRankedUser(t, db, "long", 10, 9, &d)

	entries, err := lb.TopN(context.Background(), 10, OrderByStreak)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, long.ID, entries[0].UserID)
	assert.Equal(t, 9, entries[0].StreakDays)
}

func TestTopNExcludesDisabledAndNeverCheckedLast(t *testing.T) {
	db := newTestDB(t)
	lb := NewLeaderboard(db)
	d := int64(150)

	seedRankedUser(t, db, "fresh", 100, 0, nil)
	active := seedRankedUser(t, db, "active", 100, 3, &d)
	ghost := seedRankedUser(t, db, "ghost", 9999, 30, &d)
	ghost.Disabled = true
	require.NoError(t, db.Save(ghost).Error)

	entries, err := lb.TopN(context.Background(), 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Equal balances: a recorded check-in day sorts before none at all.
	assert.Equal(t, active.ID, entries[0].UserID)
	assert.Equal(t, "fresh", entries[1].Username)
}

func TestTopNClampsAndValidates(t *testing.T) {
	db := newTestDB(t)
	lb := NewLeaderboard(db)
	d := int64(150)
	for i := 0; i < 12; i++ {
		seedRankedUser(t, db, "u"+string(rune('a'+i)), int64(i), i, &d)
	}

	entries, err := lb.TopN(context.Background(), 5, OrderByBalance)
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	entries, err = lb.TopN(context.Background(), 0, OrderByBalance)
	require.NoError(t, err)
	assert.Len(t, entries, 10)

	_, err = lb.TopN(context.Background(), 10, "karma")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
