package models

import "time"

// Transaction kinds. Every balance change carries exactly one of these.
const (
	TxKindCheckin     = "checkin"
	TxKindStreakBonus = "streak_bonus"
	TxKindMakeup      = "makeup"
	TxKindAdminAdjust = "admin_adjust"
	TxKindTransferOut = "transfer_out"
	TxKindTransferIn  = "transfer_in"
	TxKindEmailBonus  = "email_bonus"
)

// PointsTransaction is the append-only ledger. Rows are created once and
// never updated or deleted; a user's balance is the sum of their deltas.
// Balance stores the resulting balance after the delta for auditing.
type PointsTransaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index:idx_tx_user_day;not null" json:"user_id"`
	Kind      string    `gorm:"size:32;index;not null" json:"kind"`
	Delta     int64     `gorm:"not null" json:"delta"`
	Balance   int64     `gorm:"not null" json:"balance"`
	Day       int64     `gorm:"index:idx_tx_user_day;not null" json:"day"`
	// Tier is the streak threshold a streak_bonus row paid out for, zero
	// for every other kind.
	Tier    int  `gorm:"default:0" json:"tier,omitempty"`
	ActorID uint `gorm:"index" json:"actor_id"`
	RefID     string    `gorm:"size:36;index" json:"ref_id,omitempty"`
	Reason    string    `gorm:"size:255" json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
