package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cppla/checkinhub/config"
	"github.com/cppla/checkinhub/models"
	"github.com/cppla/checkinhub/utils"
)

// PointsService applies every balance-affecting operation as one atomic
// database transaction. Operations on the same user are serialized through
// a per-user mutex; operations on different users proceed concurrently.
// The commit gate lets a backup trigger briefly quiesce all writers.
type PointsService struct {
	db       *gorm.DB
	cfg      config.AppConfig
	cal      *Calendar
	registry *Registry

	locks userLocks
	gate  sync.RWMutex

	inFlight   atomic.Int64
	lastCommit atomic.Int64 // unix nanos of last successful commit
}

// NewPointsService wires the service. The tier table is sorted ascending
// once here so the streak engine can rely on it.
func NewPointsService(db *gorm.DB, cfg config.AppConfig, cal *Calendar, registry *Registry) *PointsService {
	sort.Slice(cfg.StreakTiers, func(i, j int) bool {
		return cfg.StreakTiers[i].Days < cfg.StreakTiers[j].Days
	})
	return &PointsService{
		db:       db,
		cfg:      cfg,
		cal:      cal,
		registry: registry,
		locks:    userLocks{m: map[uint]*sync.Mutex{}},
	}
}

// Calendar exposes the service's day resolver to the transport layer.
func (s *PointsService) Calendar() *Calendar { return s.cal }

// CheckInResult reports a successful daily check-in.
type CheckInResult struct {
	Day         int64 `json:"day"`
	Streak      int   `json:"streak"`
	BaseAwarded int   `json:"base_awarded"`
	Bonus       int   `json:"bonus_awarded"`
	Balance     int64 `json:"balance"`
}

// CheckIn records today's check-in for the user. Exactly one of any number
// of concurrent attempts succeeds; the rest fail with ErrAlreadyCheckedIn.
func (s *PointsService) CheckIn(ctx context.Context, userID uint) (*CheckInResult, error) {
	defer s.beginOp(userID)()

	var res CheckInResult
	err := s.commit(ctx, func(tx *gorm.DB) error {
		user, err := loadActiveUser(tx, userID)
		if err != nil {
			return err
		}

		today := s.cal.Today()
		snap, err := s.snapshotStreak(tx, user, today)
		if err != nil {
			return err
		}
		eval := EvaluateStreakRules(s.cfg.StreakTiers, snap)
		if !eval.EligibleToday {
			return ErrAlreadyCheckedIn
		}

		// Unique (user, day) index backs this insert: a concurrent duplicate
		// aborts the whole transaction before any ledger row lands.
		if err := tx.Create(&models.CheckinDay{UserID: userID, Day: today}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyCheckedIn
			}
			return err
		}

		ref := uuid.NewString()
		balance := user.Points + int64(s.cfg.BaseReward)
		if err := appendTx(tx, models.PointsTransaction{
			UserID:  userID,
			Kind:    models.TxKindCheckin,
			Delta:   int64(s.cfg.BaseReward),
			Balance: balance,
			Day:     today,
			ActorID: userID,
			RefID:   ref,
		}); err != nil {
			return err
		}

		bonus := 0
		if eval.Bonus != nil {
			bonus = eval.Bonus.Points
			balance += int64(bonus)
			if err := appendTx(tx, models.PointsTransaction{
				UserID:  userID,
				Kind:    models.TxKindStreakBonus,
				Delta:   int64(bonus),
				Balance: balance,
				Day:     today,
				Tier:    eval.Bonus.Days,
				ActorID: userID,
				RefID:   ref,
				Reason:  fmt.Sprintf("streak reached %d days", eval.Bonus.Days),
			}); err != nil {
				return err
			}
		}

		now := time.Now()
		user.Points = balance
		user.StreakDays = eval.StreakIfCheckedInToday
		if user.StreakDays > user.MaxStreakDays {
			user.MaxStreakDays = user.StreakDays
		}
		user.LastCheckinDay = &today
		user.LastCheckinAt = &now
		user.TotalCheckins++
		if err := tx.Save(user).Error; err != nil {
			return err
		}
		if err := auditBalance(tx, userID, balance); err != nil {
			return err
		}

		res = CheckInResult{
			Day:         today,
			Streak:      user.StreakDays,
			BaseAwarded: s.cfg.BaseReward,
			Bonus:       bonus,
			Balance:     balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// MakeupResult reports a successful makeup check-in.
type MakeupResult struct {
	Day     int64 `json:"day"`
	Cost    int   `json:"cost"`
	Streak  int   `json:"streak"`
	Balance int64 `json:"balance"`
}

// MakeUp retroactively fills a missed logical day by spending points. The
// target day must be missed, within the lookback window, and the monthly
// makeup quota must not be exhausted. Streak continuity is recomputed as if
// the day had been checked in natively.
func (s *PointsService) MakeUp(ctx context.Context, userID uint, targetDay int64) (*MakeupResult, error) {
	defer s.beginOp(userID)()

	var res MakeupResult
	err := s.commit(ctx, func(tx *gorm.DB) error {
		user, err := loadActiveUser(tx, userID)
		if err != nil {
			return err
		}

		today := s.cal.Today()
		if targetDay >= today || targetDay < today-int64(s.cfg.MakeupWindowDays) {
			return ErrOutOfWindow
		}

		monthStart, monthEnd := s.cal.MonthBounds(time.Now())
		var used int64
		if err := tx.Model(&models.PointsTransaction{}).
			Where("user_id = ? AND kind = ? AND created_at >= ? AND created_at < ?",
				userID, models.TxKindMakeup, monthStart, monthEnd).
			Count(&used).Error; err != nil {
			return err
		}
		if used >= int64(s.cfg.MakeupMonthlyLimit) {
			return ErrOutOfWindow
		}

		cost := int64(s.cfg.MakeupCost)
		if user.Points < cost {
			return ErrInsufficientBalance
		}

		// A day that already has a check-in is not missed, so it is not a
		// valid makeup target.
		if err := tx.Create(&models.CheckinDay{UserID: userID, Day: targetDay, Makeup: true}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrOutOfWindow
			}
			return err
		}

		balance := user.Points - cost
		if err := appendTx(tx, models.PointsTransaction{
			UserID:  userID,
			Kind:    models.TxKindMakeup,
			Delta:   -cost,
			Balance: balance,
			Day:     targetDay,
			ActorID: userID,
			RefID:   uuid.NewString(),
			Reason:  fmt.Sprintf("makeup for %s", s.cal.FormatDay(targetDay)),
		}); err != nil {
			return err
		}

		streak, lastDay, err := recomputeStreak(tx, userID)
		if err != nil {
			return err
		}

		user.Points = balance
		user.StreakDays = streak
		if streak > user.MaxStreakDays {
			user.MaxStreakDays = streak
		}
		user.LastCheckinDay = lastDay
		user.TotalCheckins++
		if err := tx.Save(user).Error; err != nil {
			return err
		}
		if err := auditBalance(tx, userID, balance); err != nil {
			return err
		}

		res = MakeupResult{Day: targetDay, Cost: s.cfg.MakeupCost, Streak: streak, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Adjust applies an admin balance adjustment. The actor must hold the
// adjust-points capability; a negative delta may not drive the balance
// below zero.
func (s *PointsService) Adjust(ctx context.Context, actorAdminID, userID uint, delta int64, reason string) (int64, error) {
	ok, err := s.registry.HasCapability(ctx, actorAdminID, models.CapAdjustPoints)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrPermissionDenied
	}
	if delta == 0 {
		return 0, ErrInvalidAmount
	}

	defer s.beginOp(userID)()

	var balance int64
	err = s.commit(ctx, func(tx *gorm.DB) error {
		user, err := loadActiveUser(tx, userID)
		if err != nil {
			return err
		}
		if user.Points+delta < 0 {
			return ErrInsufficientBalance
		}
		balance = user.Points + delta
		if err := appendTx(tx, models.PointsTransaction{
			UserID:  userID,
			Kind:    models.TxKindAdminAdjust,
			Delta:   delta,
			Balance: balance,
			Day:     s.cal.Today(),
			ActorID: actorAdminID,
			RefID:   uuid.NewString(),
			Reason:  utils.SanitizeText(reason),
		}); err != nil {
			return err
		}
		user.Points = balance
		if err := tx.Save(user).Error; err != nil {
			return err
		}
		return auditBalance(tx, userID, balance)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// TransferResult reports a completed transfer.
type TransferResult struct {
	Amount      int64 `json:"amount"`
	Fee         int64 `json:"fee"`
	FromBalance int64 `json:"from_balance"`
	ToBalance   int64 `json:"to_balance"`
}

// Transfer moves points between two users as one atomic unit: a debit and a
// credit sharing one reference id. The sender pays the configured fee on
// top of the amount. Both user locks are taken in ascending id order.
func (s *PointsService) Transfer(ctx context.Context, fromID, toID uint, amount int64) (*TransferResult, error) {
	if !s.cfg.TransferEnabled {
		return nil, ErrTransferDisabled
	}
	if fromID == toID {
		return nil, ErrInvalidAmount
	}
	if amount < int64(s.cfg.TransferMin) || amount > int64(s.cfg.TransferMax) {
		return nil, ErrInvalidAmount
	}

	defer s.beginOp(fromID, toID)()

	var res TransferResult
	err := s.commit(ctx, func(tx *gorm.DB) error {
		from, err := loadActiveUser(tx, fromID)
		if err != nil {
			return err
		}
		to, err := loadActiveUser(tx, toID)
		if err != nil {
			return err
		}

		fee := amount * int64(s.cfg.TransferFeePercent) / 100
		total := amount + fee
		if from.Points < total {
			return ErrInsufficientBalance
		}

		ref := uuid.NewString()
		day := s.cal.Today()
		fromBalance := from.Points - total
		if err := appendTx(tx, models.PointsTransaction{
			UserID:  fromID,
			Kind:    models.TxKindTransferOut,
			Delta:   -total,
			Balance: fromBalance,
			Day:     day,
			ActorID: fromID,
			RefID:   ref,
			Reason:  fmt.Sprintf("transfer %d to user %d (fee %d)", amount, toID, fee),
		}); err != nil {
			return err
		}
		toBalance := to.Points + amount
		if err := appendTx(tx, models.PointsTransaction{
			UserID:  toID,
			Kind:    models.TxKindTransferIn,
			Delta:   amount,
			Balance: toBalance,
			Day:     day,
			ActorID: fromID,
			RefID:   ref,
			Reason:  fmt.Sprintf("transfer %d from user %d", amount, fromID),
		}); err != nil {
			return err
		}

		from.Points = fromBalance
		to.Points = toBalance
		if err := tx.Save(from).Error; err != nil {
			return err
		}
		if err := tx.Save(to).Error; err != nil {
			return err
		}
		if err := auditBalance(tx, fromID, fromBalance); err != nil {
			return err
		}
		if err := auditBalance(tx, toID, toBalance); err != nil {
			return err
		}

		res = TransferResult{Amount: amount, Fee: fee, FromBalance: fromBalance, ToBalance: toBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// AwardEmailBonus marks the user's email verified and pays the one-time
// verification bonus in the same transaction. A verified email must be
// unique across users.
func (s *PointsService) AwardEmailBonus(ctx context.Context, userID uint, email string) (int64, error) {
	defer s.beginOp(userID)()

	var balance int64
	err := s.commit(ctx, func(tx *gorm.DB) error {
		user, err := loadActiveUser(tx, userID)
		if err != nil {
			return err
		}

		var taken int64
		if err := tx.Model(&models.User{}).
			Where("email = ? AND email_verified = ? AND id <> ?", email, true, userID).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrEmailTaken
		}

		if user.EmailVerified {
			// Re-verification changes the address but never re-awards.
			user.Email = &email
			balance = user.Points
			return saveVerifiedEmail(tx, user)
		}

		balance = user.Points + int64(s.cfg.EmailBonusPoints)
		if err := appendTx(tx, models.PointsTransaction{
			UserID:  userID,
			Kind:    models.TxKindEmailBonus,
			Delta:   int64(s.cfg.EmailBonusPoints),
			Balance: balance,
			Day:     s.cal.Today(),
			ActorID: userID,
			RefID:   uuid.NewString(),
			Reason:  "email verified",
		}); err != nil {
			return err
		}
		user.Email = &email
		user.EmailVerified = true
		user.Points = balance
		if err := saveVerifiedEmail(tx, user); err != nil {
			return err
		}
		return auditBalance(tx, userID, balance)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// saveVerifiedEmail persists the user row. The unique index on email turns
// a concurrent claim of the same address, which the per-user locks do not
// serialize, into ErrEmailTaken for the loser.
func saveVerifiedEmail(tx *gorm.DB, user *models.User) error {
	if err := tx.Save(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// StreakStatus is the read-only streak view returned to the transport layer.
type StreakStatus struct {
	Today                  int64  `json:"today"`
	TodayDate              string `json:"today_date"`
	Streak                 int    `json:"streak"`
	MaxStreak              int    `json:"max_streak"`
	EligibleToday          bool   `json:"eligible_today"`
	StreakIfCheckedInToday int    `json:"streak_if_checked_in_today"`
	NextBonusDays          int    `json:"next_bonus_days,omitempty"`
	NextBonusPoints        int    `json:"next_bonus_points,omitempty"`
	Balance                int64  `json:"balance"`
}

// EvaluateStreak reports the user's current streak position without
// mutating anything.
func (s *PointsService) EvaluateStreak(ctx context.Context, userID uint) (*StreakStatus, error) {
	tx := s.db.WithContext(ctx)
	user, err := loadActiveUser(tx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	today := s.cal.Today()
	snap, err := s.snapshotStreak(tx, user, today)
	if err != nil {
		return nil, storeErr(err)
	}
	eval := EvaluateStreakRules(s.cfg.StreakTiers, snap)

	status := &StreakStatus{
		Today:                  today,
		TodayDate:              s.cal.FormatDay(today),
		Streak:                 user.StreakDays,
		MaxStreak:              user.MaxStreakDays,
		EligibleToday:          eval.EligibleToday,
		StreakIfCheckedInToday: eval.StreakIfCheckedInToday,
		Balance:                user.Points,
	}
	for _, tier := range s.cfg.StreakTiers {
		if tier.Days > eval.StreakIfCheckedInToday {
			status.NextBonusDays = tier.Days
			status.NextBonusPoints = tier.Points
			break
		}
	}
	return status, nil
}

// History returns a page of the user's ledger, newest first.
func (s *PointsService) History(ctx context.Context, userID uint, page, pageSize int) ([]models.PointsTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	var total int64
	q := s.db.WithContext(ctx).Model(&models.PointsTransaction{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storeErr(err)
	}
	var txs []models.PointsTransaction
	if err := q.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&txs).Error; err != nil {
		return nil, 0, storeErr(err)
	}
	return txs, total, nil
}

// HealthStatus is the snapshot consumed by the /health endpoint.
type HealthStatus struct {
	StoreReachable bool       `json:"store_reachable"`
	InFlightOps    int64      `json:"in_flight_ops"`
	LastCommitAt   *time.Time `json:"last_commit_at,omitempty"`
}

// Health reports store reachability, in-flight mutation count, and the last
// successful commit time.
func (s *PointsService) Health(ctx context.Context) HealthStatus {
	st := HealthStatus{InFlightOps: s.inFlight.Load()}
	if sqlDB, err := s.db.DB(); err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		st.StoreReachable = sqlDB.PingContext(pingCtx) == nil
	}
	if ns := s.lastCommit.Load(); ns > 0 {
		t := time.Unix(0, ns)
		st.LastCommitAt = &t
	}
	return st
}

// Quiesce blocks new commits, runs fn, then releases the gate. Used by the
// backup trigger to get a crash-consistent copy window; fn must be brief.
func (s *PointsService) Quiesce(fn func() error) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	return fn()
}

// beginOp takes the commit gate read-side and the per-user locks (ascending
// id order when more than one) and returns the release function.
func (s *PointsService) beginOp(userIDs ...uint) func() {
	s.gate.RLock()
	release := s.locks.lock(userIDs...)
	s.inFlight.Add(1)
	return func() {
		s.inFlight.Add(-1)
		release()
		s.gate.RUnlock()
	}
}

// commit runs fn inside one database transaction and records the commit
// time on success. Unknown store errors surface as ErrStoreUnavailable.
func (s *PointsService) commit(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) && utils.Sugar != nil {
			utils.Sugar.Errorw("ledger invariant violation, transaction aborted", "err", err)
		}
		return storeErr(err)
	}
	s.lastCommit.Store(time.Now().UnixNano())
	return nil
}

// snapshotStreak assembles the pure streak engine's input for a user.
func (s *PointsService) snapshotStreak(tx *gorm.DB, user *models.User, today int64) (StreakSnapshot, error) {
	snap := StreakSnapshot{
		Today:          today,
		LastCheckinDay: user.LastCheckinDay,
		CurrentStreak:  user.StreakDays,
	}

	var checked int64
	if err := tx.Model(&models.CheckinDay{}).
		Where("user_id = ? AND day = ?", user.ID, today).
		Count(&checked).Error; err != nil {
		return snap, err
	}
	snap.CheckedToday = checked > 0

	// Thresholds already paid within the current run. Each streak-bonus row
	// records its tier, so only run membership comes from day arithmetic;
	// a makeup that bridges segments keeps every earlier payout attributed
	// to the right threshold.
	if user.LastCheckinDay != nil && user.StreakDays > 0 {
		runStart := *user.LastCheckinDay - int64(user.StreakDays) + 1
		if err := tx.Model(&models.PointsTransaction{}).
			Where("user_id = ? AND kind = ? AND day >= ?", user.ID, models.TxKindStreakBonus, runStart).
			Pluck("tier", &snap.AwardedTiers).Error; err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// recomputeStreak walks the user's checked days backwards from the most
// recent one and counts the consecutive run, makeup days included.
func recomputeStreak(tx *gorm.DB, userID uint) (int, *int64, error) {
	var days []int64
	if err := tx.Model(&models.CheckinDay{}).
		Where("user_id = ?", userID).
		Order("day DESC").
		Pluck("day", &days).Error; err != nil {
		return 0, nil, err
	}
	if len(days) == 0 {
		return 0, nil, nil
	}
	streak := 1
	for i := 1; i < len(days); i++ {
		if days[i] != days[i-1]-1 {
			break
		}
		streak++
	}
	last := days[0]
	return streak, &last, nil
}

// appendTx inserts one immutable ledger row.
func appendTx(tx *gorm.DB, record models.PointsTransaction) error {
	return tx.Create(&record).Error
}

// auditBalance cross-checks the cached balance against the sum of ledger
// deltas before commit. A mismatch aborts the transaction.
func auditBalance(tx *gorm.DB, userID uint, expected int64) error {
	var sum int64
	if err := tx.Model(&models.PointsTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error; err != nil {
		return err
	}
	if sum != expected {
		return fmt.Errorf("%w: user %d balance %d != ledger sum %d", ErrInvariantViolation, userID, expected, sum)
	}
	return nil
}

// loadActiveUser fetches a user that exists and is not soft-disabled.
func loadActiveUser(tx *gorm.DB, userID uint) (*models.User, error) {
	var user models.User
	if err := tx.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if user.Disabled {
		return nil, ErrNotFound
	}
	return &user, nil
}

// storeErr folds store failures into the service error taxonomy. Business
// errors pass through untouched; anything else is a transient store fault
// the caller may retry.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrAlreadyCheckedIn, ErrInsufficientBalance, ErrOutOfWindow,
		ErrPermissionDenied, ErrNotFound, ErrInvariantViolation,
		ErrTransferDisabled, ErrInvalidAmount, ErrGroupExists,
		ErrInvalidGroupName, ErrInvalidCapability, ErrEmailTaken,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// userLocks is a keyed mutex: one mutex per user id, created on first use.
// Entries are never evicted; the map grows with the active user set, which
// is bounded and small relative to the ledger itself.
type userLocks struct {
	mu sync.Mutex
	m  map[uint]*sync.Mutex
}

// lock acquires the mutexes for the given ids in ascending order and
// returns a function releasing them in reverse.
func (l *userLocks) lock(ids ...uint) func() {
	sorted := make([]uint, 0, len(ids))
	seen := map[uint]bool{}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	taken := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		l.mu.Lock()
		mu, ok := l.m[id]
		if !ok {
			mu = &sync.Mutex{}
			l.m[id] = mu
		}
		l.mu.Unlock()
		mu.Lock()
		taken = append(taken, mu)
	}
	return func() {
		for i := len(taken) - 1; i >= 0; i-- {
			taken[i].Unlock()
		}
	}
}
