package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tastemind/tastemind/internal/models"
)

// Repository provides database access methods. It wraps either the pool
// or an open transaction, so the per-entity repositories below can be
// built inside gorm's Transaction callback.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying handle
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// AccountRepository provides account-related database operations
type AccountRepository struct {
	*Repository
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(repo *Repository) *AccountRepository {
	return &AccountRepository{Repository: repo}
}

// GetAccount retrieves an account by ID, nil when it does not exist
func (r *AccountRepository) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// Create creates a new account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.SettlementTier == "" {
		account.SettlementTier = models.SettlementEmailBasic
	}
	if account.ReputationTier == "" {
		account.ReputationTier = models.ReputationNew
	}
	return translate(r.db.WithContext(ctx).Create(account).Error)
}

// UpdateWalletAddress links a wallet and upgrades the settlement tier.
// Reputation tier is left untouched.
func (r *AccountRepository) UpdateWalletAddress(ctx context.Context, id, address string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"wallet_address":  address,
			"settlement_tier": models.SettlementWalletFull,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}

// UpdateTrustScore stores the latest community trust score for an author
func (r *AccountRepository) UpdateTrustScore(ctx context.Context, id string, score float64) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Update("trust_score", score).Error
}
