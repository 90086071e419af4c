package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/pkg/logging"
)

// Relay drains committed outbox rows to a Publisher. Delivery is at least
// once; consumers deduplicate on the event_id header, which is the outbox
// row id.
type Relay struct {
	outbox     *db.OutboxRepository
	publisher  Publisher
	batchSize  int
	maxRetries int
	logger     *zap.Logger
}

// NewRelay creates an outbox relay
func NewRelay(outbox *db.OutboxRepository, publisher Publisher, batchSize, maxRetries int) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		outbox:     outbox,
		publisher:  publisher,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		logger:     logging.WithComponent("outbox-relay"),
	}
}

// RelayOnce sends one batch of pending events and returns how many were sent
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	messages, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range messages {
		if r.send(ctx, msg) {
			sent++
		}
	}
	return sent, nil
}

func (r *Relay) send(ctx context.Context, msg *models.OutboxMessage) bool {
	err := r.publisher.Publish(ctx, Event{
		ID:      msg.ID,
		Key:     msg.MessageKey,
		Type:    msg.EventType,
		Payload: msg.Payload,
	})
	if err == nil {
		if err := r.outbox.UpdateStatus(ctx, msg.ID, models.OutboxStatusSent); err != nil {
			r.logger.Error("Failed to mark event sent", zap.String("id", msg.ID), zap.Error(err))
		}
		return true
	}

	r.logger.Warn("Failed to publish event",
		zap.String("id", msg.ID),
		zap.String("event_type", msg.EventType),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(err))

	if err := r.outbox.IncrementRetryCount(ctx, msg.ID); err != nil {
		r.logger.Error("Failed to bump retry count", zap.String("id", msg.ID), zap.Error(err))
	}
	if r.maxRetries > 0 && msg.RetryCount+1 >= r.maxRetries {
		if err := r.outbox.UpdateStatus(ctx, msg.ID, models.OutboxStatusFailed); err != nil {
			r.logger.Error("Failed to mark event failed", zap.String("id", msg.ID), zap.Error(err))
		} else {
			r.logger.Error("Event exceeded retry limit", zap.String("id", msg.ID))
		}
	}
	return false
}
