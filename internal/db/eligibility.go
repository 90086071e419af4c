package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tastemind/tastemind/internal/models"
)

// EligibilityRepository provides eligibility_windows access
type EligibilityRepository struct {
	*Repository
}

// NewEligibilityRepository creates a new eligibility repository
func NewEligibilityRepository(repo *Repository) *EligibilityRepository {
	return &EligibilityRepository{Repository: repo}
}

// Get retrieves the window for (account, action), nil when none exists
func (r *EligibilityRepository) Get(ctx context.Context, accountID, action string) (*models.EligibilityWindow, error) {
	var window models.EligibilityWindow
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND action = ?", accountID, action).
		First(&window).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &window, nil
}

// Ensure returns the window for (account, action), creating an empty one
// when none exists
func (r *EligibilityRepository) Ensure(ctx context.Context, accountID, action string) (*models.EligibilityWindow, error) {
	seed := &models.EligibilityWindow{AccountID: accountID, Action: action}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "action"}},
			DoNothing: true,
		}).
		Create(seed).Error; err != nil {
		return nil, err
	}
	return r.Get(ctx, accountID, action)
}

// CompareAndSwap writes the window only if its stored version still equals
// w.Version, bumping the version. False means another writer got there first.
func (r *EligibilityRepository) CompareAndSwap(ctx context.Context, w *models.EligibilityWindow) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.EligibilityWindow{}).
		Where("account_id = ? AND action = ? AND version = ?", w.AccountID, w.Action, w.Version).
		Updates(map[string]interface{}{
			"last_awarded_at": w.LastAwardedAt,
			"recent_awards":   w.RecentAwards,
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
