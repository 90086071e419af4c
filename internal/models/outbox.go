package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Reward event types written to the outbox
const (
	EventRewardAwarded  = "reward.awarded"
	EventRewardSettled  = "reward.settled"
	EventRewardReversed = "reward.reversed"
	EventClaimConfirmed = "claim.confirmed"
	EventClaimFailed    = "claim.failed"
)

// OutboxMessage is a reward event committed with the ledger write that
// produced it, relayed to the message broker afterwards
type OutboxMessage struct {
	ID         string         `gorm:"primaryKey;type:varchar(64);column:id"`
	MessageKey string         `gorm:"type:varchar(64);not null;column:message_key"`
	EventType  string         `gorm:"type:varchar(32);not null;column:event_type"`
	Payload    datatypes.JSON `gorm:"not null;column:payload"`
	Status     string         `gorm:"type:varchar(16);not null;default:PENDING;index;column:status"`
	RetryCount int            `gorm:"not null;default:0;column:retry_count"`
	CreatedAt  time.Time      `gorm:"not null;index;column:created_at"`
	UpdatedAt  time.Time      `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for OutboxMessage
func (OutboxMessage) TableName() string {
	return "reward_outbox"
}
