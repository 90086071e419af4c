package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ClaimStatus is the lifecycle state of a ClaimAttempt
type ClaimStatus string

const (
	ClaimInitiated ClaimStatus = "initiated"
	ClaimSubmitted ClaimStatus = "submitted"
	ClaimConfirmed ClaimStatus = "confirmed"
	ClaimFailed    ClaimStatus = "failed"
)

// Terminal reports whether no further transition is possible
func (s ClaimStatus) Terminal() bool {
	return s == ClaimConfirmed || s == ClaimFailed
}

// ClaimAttempt converts a pending balance into a single mint. While it is
// non-terminal it acts as the per-account claim lock.
type ClaimAttempt struct {
	ID              string                      `gorm:"primaryKey;type:varchar(64);column:id"`
	AccountID       string                      `gorm:"type:varchar(64);not null;index;column:account_id"`
	WalletAddress   string                      `gorm:"type:varchar(66);not null;column:wallet_address"`
	TotalAmount     decimal.Decimal             `gorm:"type:numeric(20,8);not null;column:total_amount"`
	RewardRecordIDs datatypes.JSONSlice[string] `gorm:"column:reward_record_ids"`
	Status          ClaimStatus                 `gorm:"type:varchar(16);not null;index;column:status"`
	ChainTxDigest   *string                     `gorm:"type:varchar(128);column:chain_tx_digest"`
	FailureReason   string                      `gorm:"type:varchar(512);not null;default:'';column:failure_reason"`
	CreatedAt       time.Time                   `gorm:"not null;column:created_at"`
	UpdatedAt       time.Time                   `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for ClaimAttempt
func (ClaimAttempt) TableName() string {
	return "claim_attempts"
}
