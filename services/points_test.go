package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/checkinhub/config"
	"github.com/cppla/checkinhub/models"
)

var userSeq atomic.Uint64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// A single connection keeps every session on the same in-memory
	// database and sidesteps sqlite write contention.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.PointsTransaction{},
		&models.CheckinDay{},
		&models.PermissionGroup{},
		&models.GroupMember{},
	))
	return db
}

func testConfig() config.AppConfig {
	return config.AppConfig{
		BaseReward:         10,
		StreakTiers:        []config.StreakTier{{Days: 7, Points: 20}, {Days: 30, Points: 100}},
		MakeupCost:         50,
		MakeupWindowDays:   3,
		MakeupMonthlyLimit: 1,
		TransferEnabled:    true,
		TransferFeePercent: 5,
		TransferMin:        10,
		TransferMax:        1000,
		EmailBonusPoints:   50,
		MinPointsForEmail:  5,
		Timezone:           "UTC",
		DayCutoffHour:      0,
	}
}

func newTestService(t *testing.T, cfg config.AppConfig, seedAdmins ...uint) (*PointsService, *gorm.DB, *Calendar) {
	t.Helper()
	db := newTestDB(t)
	cal, err := NewCalendar(cfg.Timezone, cfg.DayCutoffHour)
	require.NoError(t, err)
	registry := NewRegistry(db, seedAdmins)
	return NewPointsService(db, cfg, cal, registry), db, cal
}

// seedUser creates a user whose cached balance is backed by a matching
// ledger row so the balance audit holds.
func seedUser(t *testing.T, db *gorm.DB, cal *Calendar, points int64) *models.User {
	t.Helper()
	user := &models.User{Username: fmt.Sprintf("user%d", userSeq.Add(1))}
	require.NoError(t, db.Create(user).Error)
	if points != 0 {
		require.NoError(t, db.Create(&models.PointsTransaction{
			UserID:  user.ID,
			Kind:    models.TxKindAdminAdjust,
			Delta:   points,
			Balance: points,
			Day:     cal.Today(),
			Reason:  "seed",
		}).Error)
		user.Points = points
		require.NoError(t, db.Save(user).Error)
	}
	return user
}

// seedRun marks the trailing n days before today as checked in and sets the
// user's streak fields to match.
func seedRun(t *testing.T, db *gorm.DB, user *models.User, today int64, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, db.Create(&models.CheckinDay{UserID: user.ID, Day: today - int64(i)}).Error)
	}
	last := today - 1
	user.LastCheckinDay = &last
	user.StreakDays = n
	require.NoError(t, db.Save(user).Error)
}

func ledgerSum(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var sum int64
	require.NoError(t, db.Model(&models.PointsTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta),0)").
		Scan(&sum).Error)
	return sum
}

func reload(t *testing.T, db *gorm.DB, userID uint) *models.User {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, userID).Error)
	return &user
}

func TestCheckInFirstTime(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 0)

	res, err := svc.CheckIn(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
	assert.Equal(t, 10, res.BaseAwarded)
	assert.Equal(t, 0, res.Bonus)
	assert.Equal(t, int64(10), res.Balance)

	got := reload(t, db, user.ID)
	assert.Equal(t, int64(10), got.Points)
	assert.Equal(t, 1, got.StreakDays)
	require.NotNil(t, got.LastCheckinDay)
	assert.Equal(t, cal.Today(), *got.LastCheckinDay)
	assert.Equal(t, got.Points, ledgerSum(t, db, user.ID))
}

func TestCheckInTwiceSameDayFails(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 0)

	_, err := svc.CheckIn(context.Background(), user.ID)
	require.NoError(t, err)
	_, err = svc.CheckIn(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	var count int64
	require.NoError(t, db.Model(&models.PointsTransaction{}).
		Where("user_id = ? AND kind = ?", user.ID, models.TxKindCheckin).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConcurrentCheckInsExactlyOneSucceeds(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 0)

	const attempts = 16
	var wg sync.WaitGroup
	var successes, already atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CheckIn(context.Background(), user.ID)
			switch {
			case err == nil:
				successes.Add(1)
			case assert.ErrorIs(t, err, ErrAlreadyCheckedIn):
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes.Load())
	assert.Equal(t, int64(attempts-1), already.Load())

	var count int64
	require.NoError(t, db.Model(&models.CheckinDay{}).
		Where("user_id = ? AND day = ?", user.ID, cal.Today()).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, reload(t, db, user.ID).Points, ledgerSum(t, db, user.ID))
}

func TestCheckInCrossingTierPaysBonusOnce(t *testing.T) {
	cfg := testConfig()
	cfg.StreakTiers = []config.StreakTier{{Days: 7, Points: 10}}
	svc, db, cal := newTestService(t, cfg)
	user := seedUser(t, db, cal, 0)
	seedRun(t, db, user, cal.Today(), 6)

	res, err := svc.CheckIn(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Streak)
	assert.Equal(t, 10, res.Bonus)
	assert.Equal(t, int64(20), res.Balance)

	var bonusCount int64
	require.NoError(t, db.Model(&models.PointsTransaction{}).
		Where("user_id = ? AND kind = ?", user.ID, models.TxKindStreakBonus).
		Count(&bonusCount).Error)
	assert.Equal(t, int64(1), bonusCount)

	// Re-evaluating the same day never double-awards.
	status, err := svc.EvaluateStreak(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, status.EligibleToday)

	_, err = svc.CheckIn(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
	require.NoError(t, db.Model(&models.PointsTransaction{}).
		Where("user_id = ? AND kind = ?", user.ID, models.TxKindStreakBonus).
		Count(&bonusCount).Error)
	assert.Equal(t, int64(1), bonusCount)
}

func TestCheckInBonusAndBaseShareRef(t *testing.T) {
	cfg := testConfig()
	cfg.StreakTiers = []config.StreakTier{{Days: 2, Points: 5}}
	svc, db, cal := newTestService(t, cfg)
	user := seedUser(t, db, cal, 0)
	seedRun(t, db, user, cal.Today(), 1)

	_, err := svc.CheckIn(context.Background(), user.ID)
	require.NoError(t, err)

	var txs []models.PointsTransaction
	require.NoError(t, db.Where("user_id = ?", user.ID).Order("id").Find(&txs).Error)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TxKindCheckin, txs[0].Kind)
	assert.Equal(t, models.TxKindStreakBonus, txs[1].Kind)
	assert.Equal(t, txs[0].RefID, txs[1].RefID)
	assert.NotEmpty(t, txs[0].RefID)
}

func TestMakeupBridgesGap(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 100)
	today := cal.Today()

	// Native check-in two days ago, then a miss.
	require.NoError(t, db.Create(&models.CheckinDay{UserID: user.ID, Day: today - 2}).Error)
	last := today - 2
	user.LastCheckinDay = &last
	user.StreakDays = 1
	require.NoError(t, db.Save(user).Error)

	res, err := svc.MakeUp(context.Background(), user.ID, today-1)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Cost)
	assert.Equal(t, 2, res.Streak)
	assert.Equal(t, int64(50), res.Balance)

	// The bridged run continues natively.
	checkin, err := svc.CheckIn(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, checkin.Streak)
	assert.Equal(t, reload(t, db, user.ID).Points, ledgerSum(t, db, user.ID))
}

func TestMakeupRejectsOutOfWindow(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 100)
	today := cal.Today()

	_, err := svc.MakeUp(context.Background(), user.ID, today)
	assert.ErrorIs(t, err, ErrOutOfWindow)
	_, err = svc.MakeUp(context.Background(), user.ID, today-4)
	assert.ErrorIs(t, err, ErrOutOfWindow)
	assert.Equal(t, int64(100), reload(t, db, user.ID).Points)
}

func TestMakeupRejectsInsufficientBalance(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 30)

	_, err := svc.MakeUp(context.Background(), user.ID, cal.Today()-1)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	var count int64
	require.NoError(t, db.Model(&models.CheckinDay{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMakeupRejectsNonMissedDay(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 200)
	today := cal.Today()
	require.NoError(t, db.Create(&models.CheckinDay{UserID: user.ID, Day: today - 1}).Error)

	// A day that was checked in is not missed, so it is out of the window.
	_, err := svc.MakeUp(context.Background(), user.ID, today-1)
	assert.ErrorIs(t, err, ErrOutOfWindow)
	assert.Equal(t, int64(200), reload(t, db, user.ID).Points)
}

func TestMakeupBridgeKeepsBonusOncePerRun(t *testing.T) {
	cfg := testConfig()
	cfg.StreakTiers = []config.StreakTier{{Days: 2, Points: 5}}
	svc, db, cal := newTestService(t, cfg)
	user := seedUser(t, db, cal, 100)
	today := cal.Today()

	// One checked day, a miss, then a fresh segment that already paid the
	// tier-2 bonus on its second day.
	for _, d := range []int64{today - 4, today - 2, today - 1} {
		require.NoError(t, db.Create(&models.CheckinDay{UserID: user.ID, Day: d}).Error)
	}
	require.NoError(t, db.Create(&models.PointsTransaction{
		UserID:  user.ID,
		Kind:    models.TxKindStreakBonus,
		Delta:   5,
		Balance: 105,
		Day:     today - 1,
		Tier:    2,
		Reason:  "streak reached 2 days",
	}).Error)
	last := today - 1
	user.Points = 105
	user.StreakDays = 2
	user.LastCheckinDay = &last
	require.NoError(t, db.Save(user).Error)

	// Bridging the miss merges both segments into one consecutive run.
	res, err := svc.MakeUp(context.Background(), user.ID, today-3)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Streak)

	// Tier 2 was already paid inside this run; checking in must not pay it
	// again.
	checkin, err := svc.CheckIn(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, checkin.Streak)
	assert.Equal(t, 0, checkin.Bonus)

	var bonusCount int64
	require.NoError(t, db.Model(&models.PointsTransaction{}).
		Where("user_id = ? AND kind = ?", user.ID, models.TxKindStreakBonus).
		Count(&bonusCount).Error)
	assert.Equal(t, int64(1), bonusCount)
	assert.Equal(t, reload(t, db, user.ID).Points, ledgerSum(t, db, user.ID))
}

func TestMakeupMonthlyQuota(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 200)
	today := cal.Today()

	_, err := svc.MakeUp(context.Background(), user.ID, today-1)
	require.NoError(t, err)
	_, err = svc.MakeUp(context.Background(), user.ID, today-2)
	assert.ErrorIs(t, err, ErrOutOfWindow)
}

func TestAdjustRequiresCapability(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 100)
	stranger := seedUser(t, db, cal, 0)

	_, err := svc.Adjust(context.Background(), stranger.ID, user.ID, 25, "no authority")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	var count int64
	require.NoError(t, db.Model(&models.PointsTransaction{}).
		Where("user_id = ? AND kind = ?", user.ID, models.TxKindAdminAdjust).
		Where("reason <> ?", "seed").
		Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, int64(100), reload(t, db, user.ID).Points)
}

func TestAdjustAppliesDeltaForSeedAdmin(t *testing.T) {
	cfg := testConfig()
	svc, db, cal := newTestService(t, cfg, 999)
	user := seedUser(t, db, cal, 100)

	balance, err := svc.Adjust(context.Background(), 999, user.ID, -40, "penalty")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)
	assert.Equal(t, int64(60), reload(t, db, user.ID).Points)
	assert.Equal(t, int64(60), ledgerSum(t, db, user.ID))
}

func TestAdjustRejectsNegativeBalance(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig(), 999)
	user := seedUser(t, db, cal, 10)

	_, err := svc.Adjust(context.Background(), 999, user.ID, -11, "too deep")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(10), reload(t, db, user.ID).Points)
}

func TestTransferLinkedPair(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	alice := seedUser(t, db, cal, 500)
	bob := seedUser(t, db, cal, 0)

	res, err := svc.Transfer(context.Background(), alice.ID, bob.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Fee)
	assert.Equal(t, int64(395), res.FromBalance)
	assert.Equal(t, int64(100), res.ToBalance)

	var out, in models.PointsTransaction
	require.NoError(t, db.Where("user_id = ? AND kind = ?", alice.ID, models.TxKindTransferOut).First(&out).Error)
	require.NoError(t, db.Where("user_id = ? AND kind = ?", bob.ID, models.TxKindTransferIn).First(&in).Error)
	assert.Equal(t, out.RefID, in.RefID)
	assert.Equal(t, int64(-105), out.Delta)
	assert.Equal(t, int64(100), in.Delta)

	assert.Equal(t, int64(395), ledgerSum(t, db, alice.ID))
	assert.Equal(t, int64(100), ledgerSum(t, db, bob.ID))
}

func TestTransferInsufficientLeavesNothing(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	alice := seedUser(t, db, cal, 100)
	bob := seedUser(t, db, cal, 0)

	// 100 points cannot cover 100 + 5% fee.
	_, err := svc.Transfer(context.Background(), alice.ID, bob.ID, 100)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, int64(100), reload(t, db, alice.ID).Points)
	assert.Equal(t, int64(0), reload(t, db, bob.ID).Points)
	assert.Equal(t, int64(0), ledgerSum(t, db, bob.ID))
}

func TestTransferDisabledAndBounds(t *testing.T) {
	cfg := testConfig()
	cfg.TransferEnabled = false
	svc, db, cal := newTestService(t, cfg)
	alice := seedUser(t, db, cal, 500)
	bob := seedUser(t, db, cal, 0)

	_, err := svc.Transfer(context.Background(), alice.ID, bob.ID, 100)
	assert.ErrorIs(t, err, ErrTransferDisabled)

	cfg.TransferEnabled = true
	svc2, db2, cal2 := newTestService(t, cfg)
	a2 := seedUser(t, db2, cal2, 5000)
	b2 := seedUser(t, db2, cal2, 0)
	_, err = svc2.Transfer(context.Background(), a2.ID, b2.ID, 5)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc2.Transfer(context.Background(), a2.ID, b2.ID, 2000)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc2.Transfer(context.Background(), a2.ID, a2.ID, 100)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConcurrentTransfersKeepLedgerConsistent(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	alice := seedUser(t, db, cal, 1000)
	bob := seedUser(t, db, cal, 1000)

	// Opposite directions concurrently: ordered locking must not deadlock.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		from, to := alice.ID, bob.ID
		if i%2 == 1 {
			from, to = bob.ID, alice.ID
		}
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(context.Background(), from, to, 20)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, reload(t, db, alice.ID).Points, ledgerSum(t, db, alice.ID))
	assert.Equal(t, reload(t, db, bob.ID).Points, ledgerSum(t, db, bob.ID))
}

func TestEmailBonusAwardedOnce(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 0)

	balance, err := svc.AwardEmailBonus(context.Background(), user.ID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	// Changing the address later never re-awards.
	balance, err = svc.AwardEmailBonus(context.Background(), user.ID, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	var count int64
	require.NoError(t, db.Model(&models.PointsTransaction{}).
		Where("user_id = ? AND kind = ?", user.ID, models.TxKindEmailBonus).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEmailBonusRejectsTakenAddress(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	first := seedUser(t, db, cal, 0)
	second := seedUser(t, db, cal, 0)

	_, err := svc.AwardEmailBonus(context.Background(), first.ID, "shared@example.com")
	require.NoError(t, err)
	_, err = svc.AwardEmailBonus(context.Background(), second.ID, "shared@example.com")
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Equal(t, int64(0), ledgerSum(t, db, second.ID))
}

func TestEmailReverifyCannotTakeBoundAddress(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	alice := seedUser(t, db, cal, 0)
	bob := seedUser(t, db, cal, 0)

	_, err := svc.AwardEmailBonus(context.Background(), alice.ID, "a@example.com")
	require.NoError(t, err)
	_, err = svc.AwardEmailBonus(context.Background(), bob.ID, "b@example.com")
	require.NoError(t, err)

	// An already-verified user cannot re-verify onto an address another
	// user holds.
	_, err = svc.AwardEmailBonus(context.Background(), bob.ID, "a@example.com")
	assert.ErrorIs(t, err, ErrEmailTaken)

	var holders int64
	require.NoError(t, db.Model(&models.User{}).
		Where("email = ? AND email_verified = ?", "a@example.com", true).
		Count(&holders).Error)
	assert.Equal(t, int64(1), holders)

	got := reload(t, db, bob.ID)
	require.NotNil(t, got.Email)
	assert.Equal(t, "b@example.com", *got.Email)
}

func TestEvaluateStreakReportsNextTier(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 0)
	seedRun(t, db, user, cal.Today(), 3)

	status, err := svc.EvaluateStreak(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, status.EligibleToday)
	assert.Equal(t, 4, status.StreakIfCheckedInToday)
	assert.Equal(t, 7, status.NextBonusDays)
	assert.Equal(t, 20, status.NextBonusPoints)
}

func TestUnknownUserIsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, testConfig())
	_, err := svc.CheckIn(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.EvaluateStreak(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisabledUserIsNotFound(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 0)
	user.Disabled = true
	require.NoError(t, db.Save(user).Error)

	_, err := svc.CheckIn(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelledContextLeavesNoPartialState(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.CheckIn(ctx, user.ID)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	var count int64
	require.NoError(t, db.Model(&models.PointsTransaction{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, int64(0), reload(t, db, user.ID).Points)
}

func TestHealthReportsCommit(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 0)

	before := svc.Health(context.Background())
	assert.True(t, before.StoreReachable)
	assert.Nil(t, before.LastCommitAt)

	_, err := svc.CheckIn(context.Background(), user.ID)
	require.NoError(t, err)

	after := svc.Health(context.Background())
	assert.NotNil(t, after.LastCommitAt)
	assert.Zero(t, after.InFlightOps)
}

func TestQuiesceBlocksAndReleasesCommits(t *testing.T) {
	svc, db, cal := newTestService(t, testConfig())
	user := seedUser(t, db, cal, 0)

	ran := false
	err := svc.Quiesce(func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// Commits proceed normally once the gate is released.
	_, err = svc.CheckIn(context.Background(), user.ID)
	assert.NoError(t, err)
}
