package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tastemind/tastemind/internal/models"
)

// OutboxRepository provides reward_outbox access
type OutboxRepository struct {
	*Repository
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(repo *Repository) *OutboxRepository {
	return &OutboxRepository{Repository: repo}
}

// Create stores an event; call it with the transaction of the ledger write
func (r *OutboxRepository) Create(ctx context.Context, msg *models.OutboxMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// GetPending returns unsent events, oldest first
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	var messages []*models.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// UpdateStatus sets an event's status
func (r *OutboxRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).
		Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

// IncrementRetryCount records a failed delivery
func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now().UTC(),
		}).Error
}
