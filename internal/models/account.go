package models

import (
	"time"
)

// SettlementTier decides how an account's rewards become available.
type SettlementTier string

const (
	SettlementEmailBasic SettlementTier = "email_basic"
	SettlementWalletFull SettlementTier = "wallet_full"
)

// ReputationTier scales reward amounts. It is unrelated to SettlementTier.
type ReputationTier string

const (
	ReputationNew         ReputationTier = "New"
	ReputationEstablished ReputationTier = "Established"
	ReputationTrusted     ReputationTier = "Trusted"
)

// Account represents a platform account as seen by the reward pipeline
type Account struct {
	ID              string         `gorm:"primaryKey;type:varchar(64);column:id"`
	SettlementTier  SettlementTier `gorm:"type:varchar(16);not null;default:email_basic;column:settlement_tier"`
	WalletAddress   *string        `gorm:"type:varchar(66);uniqueIndex:accounts_wallet_ux;column:wallet_address"`
	ReputationTier  ReputationTier `gorm:"type:varchar(16);not null;default:New;column:reputation_tier"`
	ReputationScore *float64       `gorm:"column:reputation_score"`
	TrustScore      float64        `gorm:"not null;default:0;column:trust_score"`
	CreatedAt       time.Time      `gorm:"not null;column:created_at"`
	UpdatedAt       time.Time      `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// HasWallet reports whether the account can receive on-chain mints.
func (a *Account) HasWallet() bool {
	return a.SettlementTier == SettlementWalletFull && a.WalletAddress != nil && *a.WalletAddress != ""
}
