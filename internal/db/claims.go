package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tastemind/tastemind/internal/models"
)

// ClaimRepository provides claim_attempts access
type ClaimRepository struct {
	*Repository
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(repo *Repository) *ClaimRepository {
	return &ClaimRepository{Repository: repo}
}

// Create inserts an attempt. ErrDuplicate means the account already has a
// non-terminal attempt.
func (r *ClaimRepository) Create(ctx context.Context, attempt *models.ClaimAttempt) error {
	return translate(r.db.WithContext(ctx).Create(attempt).Error)
}

// GetByID retrieves an attempt, nil when it does not exist
func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*models.ClaimAttempt, error) {
	var attempt models.ClaimAttempt
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

// FindOpen returns the account's non-terminal attempt, if any
func (r *ClaimRepository) FindOpen(ctx context.Context, accountID string) (*models.ClaimAttempt, error) {
	var attempt models.ClaimAttempt
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status IN ?", accountID,
			[]models.ClaimStatus{models.ClaimInitiated, models.ClaimSubmitted}).
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

// Transition moves an attempt from one status to another. It returns false
// when the attempt was not in the expected status.
func (r *ClaimRepository) Transition(ctx context.Context, id string, from, to models.ClaimStatus, digest *string, reason string) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if digest != nil {
		updates["chain_tx_digest"] = *digest
	}
	if reason != "" {
		if len(reason) > 512 {
			reason = reason[:512]
		}
		updates["failure_reason"] = reason
	}
	result := r.db.WithContext(ctx).
		Model(&models.ClaimAttempt{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected == 1, result.Error
}

// ListByStatus returns attempts in a status last touched before cutoff
func (r *ClaimRepository) ListByStatus(ctx context.Context, status models.ClaimStatus, cutoff time.Time, limit int) ([]*models.ClaimAttempt, error) {
	var attempts []*models.ClaimAttempt
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}
