package objects

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/tastemind/tastemind/internal/models"
)

// RewardObject is the API shape of a reward record
type RewardObject struct {
	ID               string                  `json:"id"`
	Action           string                  `json:"action"`
	TargetID         *string                 `json:"target_id,omitempty"`
	BaseAmount       decimal.Decimal         `json:"base_amount"`
	TierMultiplier   decimal.Decimal         `json:"tier_multiplier"`
	FinalAmount      decimal.Decimal         `json:"final_amount"`
	SettlementMethod models.SettlementMethod `json:"settlement_method"`
	Status           models.RewardStatus     `json:"status"`
	ChainTxDigest    *string                 `json:"chain_tx_digest,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	ClaimedAt        *time.Time              `json:"claimed_at,omitempty"`
	ReversedAt       *time.Time              `json:"reversed_at,omitempty"`
	Context          datatypes.JSONMap       `json:"context,omitempty"`
}

// NewRewardObject converts a record
func NewRewardObject(r *models.RewardRecord) RewardObject {
	return RewardObject{
		ID:               r.ID,
		Action:           r.Action,
		TargetID:         r.TargetID,
		BaseAmount:       r.BaseAmount,
		TierMultiplier:   r.TierMultiplier,
		FinalAmount:      r.FinalAmount,
		SettlementMethod: r.SettlementMethod,
		Status:           r.Status,
		ChainTxDigest:    r.ChainTxDigest,
		CreatedAt:        r.CreatedAt,
		ClaimedAt:        r.ClaimedAt,
		ReversedAt:       r.ReversedAt,
		Context:          r.Context,
	}
}

// ClaimObject is the API shape of a claim attempt
type ClaimObject struct {
	ID            string             `json:"id"`
	AccountID     string             `json:"account_id"`
	WalletAddress string             `json:"wallet_address"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	Records       int                `json:"records"`
	Status        models.ClaimStatus `json:"status"`
	ChainTxDigest *string            `json:"chain_tx_digest,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NewClaimObject converts an attempt
func NewClaimObject(a *models.ClaimAttempt) ClaimObject {
	return ClaimObject{
		ID:            a.ID,
		AccountID:     a.AccountID,
		WalletAddress: a.WalletAddress,
		TotalAmount:   a.TotalAmount,
		Records:       len(a.RewardRecordIDs),
		Status:        a.Status,
		ChainTxDigest: a.ChainTxDigest,
		FailureReason: a.FailureReason,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}
