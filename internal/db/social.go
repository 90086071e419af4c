package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tastemind/tastemind/internal/models"
)

// SocialGraphRepository provides follow-edge and taste-alignment access
type SocialGraphRepository struct {
	*Repository
}

// NewSocialGraphRepository creates a new social graph repository
func NewSocialGraphRepository(repo *Repository) *SocialGraphRepository {
	return &SocialGraphRepository{Repository: repo}
}

// Follow activates the follower→followee edge, reactivating a deactivated
// edge rather than creating a second one
func (r *SocialGraphRepository) Follow(ctx context.Context, followerID, followeeID string, weight float64) error {
	if followerID == followeeID {
		return ErrSelfEdge
	}
	now := time.Now().UTC()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.SocialEdge
		err := tx.Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
			First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			edge := &models.SocialEdge{
				FollowerID: followerID,
				FolloweeID: followeeID,
				Weight:     weight,
				IsActive:   true,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Create(edge).Error; err != nil {
				return fmt.Errorf("failed to create follow: %w", translate(err))
			}
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to check existing follow: %w", err)
		}

		if existing.IsActive && existing.Weight == weight {
			return nil
		}
		return tx.Model(&models.SocialEdge{}).
			Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
			Updates(map[string]interface{}{
				"is_active":  true,
				"weight":     weight,
				"updated_at": now,
			}).Error
	})
}

// Unfollow deactivates the edge; the row is kept for reactivation
func (r *SocialGraphRepository) Unfollow(ctx context.Context, followerID, followeeID string) error {
	return r.db.WithContext(ctx).
		Model(&models.SocialEdge{}).
		Where("follower_id = ? AND followee_id = ? AND is_active = ?", followerID, followeeID, true).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		}).Error
}

// IsFollowing reports whether viewer actively follows author
func (r *SocialGraphRepository) IsFollowing(ctx context.Context, viewerID, authorID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SocialEdge{}).
		Where("follower_id = ? AND followee_id = ? AND is_active = ?", viewerID, authorID, true).
		Count(&count).Error
	return count > 0, err
}

// IsSecondDegree reports whether viewer actively follows someone who
// actively follows author
func (r *SocialGraphRepository) IsSecondDegree(ctx context.Context, viewerID, authorID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("social_edges AS a").
		Joins("JOIN social_edges AS b ON b.follower_id = a.followee_id").
		Where("a.follower_id = ? AND a.is_active = ? AND b.followee_id = ? AND b.is_active = ?",
			viewerID, true, authorID, true).
		Where("a.followee_id <> ?", authorID).
		Count(&count).Error
	return count > 0, err
}

// GetTasteAlignment returns the viewer's alignment with another account,
// nil when none has been computed
func (r *SocialGraphRepository) GetTasteAlignment(ctx context.Context, viewerID, authorID string) (*models.TasteAlignment, error) {
	var alignment models.TasteAlignment
	err := r.db.WithContext(ctx).
		Where("viewer_id = ? AND compared_user_id = ?", viewerID, authorID).
		First(&alignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &alignment, nil
}

// UpsertTasteAlignment stores an alignment computed elsewhere
func (r *SocialGraphRepository) UpsertTasteAlignment(ctx context.Context, alignment *models.TasteAlignment) error {
	if alignment.SimilarityScore < 0 || alignment.SimilarityScore > 1 ||
		alignment.ConfidenceLevel < 0 || alignment.ConfidenceLevel > 1 {
		return fmt.Errorf("alignment scores must be within [0,1]")
	}
	alignment.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(alignment).Error
}
