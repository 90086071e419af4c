package db

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tastemind/tastemind/internal/models"
)

// RewardRepository provides reward_records access
type RewardRepository struct {
	*Repository
}

// NewRewardRepository creates a new reward repository
func NewRewardRepository(repo *Repository) *RewardRepository {
	return &RewardRepository{Repository: repo}
}

// Create inserts a record. A clash on the action/target or idempotency
// key index returns ErrDuplicate.
func (r *RewardRepository) Create(ctx context.Context, record *models.RewardRecord) error {
	return translate(r.db.WithContext(ctx).Create(record).Error)
}

// GetByID retrieves a record, nil when it does not exist
func (r *RewardRepository) GetByID(ctx context.Context, id string) (*models.RewardRecord, error) {
	var record models.RewardRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// FindActive returns the non-reversed record for a targeted action instance
func (r *RewardRepository) FindActive(ctx context.Context, accountID, action, targetID string) (*models.RewardRecord, error) {
	var record models.RewardRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND action = ? AND target_id = ? AND status <> ?",
			accountID, action, targetID, models.RewardReversed).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// CountReversed counts the reversed records of a targeted action instance
func (r *RewardRepository) CountReversed(ctx context.Context, accountID, action, targetID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.RewardRecord{}).
		Where("account_id = ? AND action = ? AND target_id = ? AND status = ?",
			accountID, action, targetID, models.RewardReversed).
		Count(&n).Error
	return n, err
}

// ListByAccount returns an account's records, newest first
func (r *RewardRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.RewardRecord, error) {
	var records []*models.RewardRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// ListClaimable returns pending-method records not yet bound to a claim
func (r *RewardRepository) ListClaimable(ctx context.Context, accountID string) ([]*models.RewardRecord, error) {
	var records []*models.RewardRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ? AND settlement_method = ? AND claim_attempt_id IS NULL",
			accountID, models.RewardPending, models.MethodPending).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

// AttachToClaim binds claimable records to a claim attempt and returns how
// many were bound
func (r *RewardRepository) AttachToClaim(ctx context.Context, ids []string, attemptID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RewardRecord{}).
		Where("id IN ? AND status = ? AND settlement_method = ? AND claim_attempt_id IS NULL",
			ids, models.RewardPending, models.MethodPending).
		Update("claim_attempt_id", attemptID)
	return result.RowsAffected, result.Error
}

// ReleaseClaim unbinds records from a failed claim so they can be claimed again
func (r *RewardRepository) ReleaseClaim(ctx context.Context, attemptID string) error {
	return r.db.WithContext(ctx).
		Model(&models.RewardRecord{}).
		Where("claim_attempt_id = ? AND status = ?", attemptID, models.RewardPending).
		Update("claim_attempt_id", nil).Error
}

// MarkClaimedByAttempt settles every pending record bound to the attempt
func (r *RewardRepository) MarkClaimedByAttempt(ctx context.Context, attemptID, digest string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RewardRecord{}).
		Where("claim_attempt_id = ? AND status = ?", attemptID, models.RewardPending).
		Updates(map[string]interface{}{
			"status":          models.RewardClaimed,
			"chain_tx_digest": digest,
			"claimed_at":      at,
		})
	return result.RowsAffected, result.Error
}

// SettleReservation moves a mint reservation to claimed. It returns false
// when the record is no longer a reservation.
func (r *RewardRepository) SettleReservation(ctx context.Context, id, digest string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RewardRecord{}).
		Where("id = ? AND status = ? AND settlement_method = ?", id, models.RewardPending, models.MethodOnChain).
		Updates(map[string]interface{}{
			"status":          models.RewardClaimed,
			"chain_tx_digest": digest,
			"claimed_at":      at,
		})
	return result.RowsAffected == 1, result.Error
}

// ConvertReservation turns a mint reservation into a pending accrual. It
// returns false when the record is no longer a reservation.
func (r *RewardRepository) ConvertReservation(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RewardRecord{}).
		Where("id = ? AND status = ? AND settlement_method = ?", id, models.RewardPending, models.MethodOnChain).
		Update("settlement_method", models.MethodPending)
	return result.RowsAffected == 1, result.Error
}

// MarkReversed reverses a record that is still in the given status
func (r *RewardRepository) MarkReversed(ctx context.Context, id string, from models.RewardStatus, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RewardRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":      models.RewardReversed,
			"reversed_at": at,
		})
	return result.RowsAffected == 1, result.Error
}

// ListStaleReservations returns mint reservations created before cutoff
func (r *RewardRepository) ListStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]*models.RewardRecord, error) {
	var records []*models.RewardRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND settlement_method = ? AND created_at < ?",
			models.RewardPending, models.MethodOnChain, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// SumPending totals the records that make up an account's pending balance
func (r *RewardRepository) SumPending(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var records []*models.RewardRecord
	err := r.db.WithContext(ctx).
		Select("final_amount").
		Where("account_id = ? AND status = ? AND settlement_method = ?",
			accountID, models.RewardPending, models.MethodPending).
		Find(&records).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, rec := range records {
		sum = sum.Add(rec.FinalAmount)
	}
	return sum, nil
}

// BalanceRepository provides pending_balances access
type BalanceRepository struct {
	*Repository
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(repo *Repository) *BalanceRepository {
	return &BalanceRepository{Repository: repo}
}

// Get retrieves a balance row, nil when the account never accrued
func (r *BalanceRepository) Get(ctx context.Context, accountID string) (*models.PendingBalance, error) {
	var balance models.PendingBalance
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&balance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

// Increment adds amount to the account's balance in a single statement
func (r *BalanceRepository) Increment(ctx context.Context, accountID string, amount decimal.Decimal, at time.Time) error {
	seed := &models.PendingBalance{AccountID: accountID, Balance: decimal.Zero, LastUpdated: at}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(seed).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&models.PendingBalance{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"balance":      gorm.Expr("balance + ?", amount),
			"last_updated": at,
		}).Error
}

// Decrement subtracts amount, refusing to take the balance below zero
func (r *BalanceRepository) Decrement(ctx context.Context, accountID string, amount decimal.Decimal, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.PendingBalance{}).
		Where("account_id = ? AND balance >= ?", accountID, amount).
		Updates(map[string]interface{}{
			"balance":      gorm.Expr("balance - ?", amount),
			"last_updated": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// ListPage returns balance rows ordered by account, after the given id
func (r *BalanceRepository) ListPage(ctx context.Context, afterAccountID string, limit int) ([]*models.PendingBalance, error) {
	var balances []*models.PendingBalance
	err := r.db.WithContext(ctx).
		Where("account_id > ?", afterAccountID).
		Order("account_id ASC").
		Limit(limit).
		Find(&balances).Error
	return balances, err
}
