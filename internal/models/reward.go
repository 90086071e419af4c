package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SettlementMethod is the path by which a reward's value becomes available
type SettlementMethod string

const (
	MethodOnChain SettlementMethod = "on_chain"
	MethodPending SettlementMethod = "pending"
)

// RewardStatus is the lifecycle state of a RewardRecord
type RewardStatus string

const (
	RewardPending  RewardStatus = "pending"
	RewardClaimed  RewardStatus = "claimed"
	RewardFailed   RewardStatus = "failed"
	RewardReversed RewardStatus = "reversed"
)

// RewardRecord is one ledger entry for one qualifying action.
//
// A record with status pending and method on_chain is a mint reservation:
// it holds the uniqueness slot while the chain call is in flight and is not
// part of the pending balance.
type RewardRecord struct {
	ID               string            `gorm:"primaryKey;type:varchar(64);column:id"`
	AccountID        string            `gorm:"type:varchar(64);not null;index:reward_records_account_ix,priority:1;column:account_id"`
	Action           string            `gorm:"type:varchar(32);not null;column:action"`
	TargetID         *string           `gorm:"type:varchar(128);column:target_id"`
	BaseAmount       decimal.Decimal   `gorm:"type:numeric(20,8);not null;column:base_amount"`
	TierMultiplier   decimal.Decimal   `gorm:"type:numeric(6,3);not null;column:tier_multiplier"`
	FinalAmount      decimal.Decimal   `gorm:"type:numeric(20,8);not null;column:final_amount"`
	SettlementMethod SettlementMethod  `gorm:"type:varchar(16);not null;column:settlement_method"`
	Status           RewardStatus      `gorm:"type:varchar(16);not null;index:reward_records_account_ix,priority:2;column:status"`
	IdempotencyKey   string            `gorm:"type:varchar(255);not null;uniqueIndex:reward_records_idem_ux;column:idempotency_key"`
	ChainTxDigest    *string           `gorm:"type:varchar(128);column:chain_tx_digest"`
	ClaimAttemptID   *string           `gorm:"type:varchar(64);index;column:claim_attempt_id"`
	Context          datatypes.JSONMap `gorm:"column:context"`
	CreatedAt        time.Time         `gorm:"not null;column:created_at"`
	ClaimedAt        *time.Time        `gorm:"column:claimed_at"`
	ReversedAt       *time.Time        `gorm:"column:reversed_at"`
}

// TableName specifies the table name for RewardRecord
func (RewardRecord) TableName() string {
	return "reward_records"
}

// IsReservation reports whether the record is an unsettled mint reservation
func (r *RewardRecord) IsReservation() bool {
	return r.Status == RewardPending && r.SettlementMethod == MethodOnChain
}

// PendingBalance is the off-chain accrual for one account
type PendingBalance struct {
	AccountID   string          `gorm:"primaryKey;type:varchar(64);column:account_id"`
	Balance     decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0;column:balance"`
	LastUpdated time.Time       `gorm:"not null;column:last_updated"`
}

// TableName specifies the table name for PendingBalance
func (PendingBalance) TableName() string {
	return "pending_balances"
}

// EligibilityWindow tracks cooldown and daily cap state per (account, action).
// RecentAwards holds the award times of the trailing 24 hours and is pruned
// on every write.
type EligibilityWindow struct {
	AccountID     string                         `gorm:"primaryKey;type:varchar(64);column:account_id"`
	Action        string                         `gorm:"primaryKey;type:varchar(32);column:action"`
	LastAwardedAt *time.Time                     `gorm:"column:last_awarded_at"`
	RecentAwards  datatypes.JSONSlice[time.Time] `gorm:"not null;default:'[]';column:recent_awards"`
	Version       int64                          `gorm:"not null;default:0;column:version"`
}

// TableName specifies the table name for EligibilityWindow
func (EligibilityWindow) TableName() string {
	return "eligibility_windows"
}
