package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/tastemind/tastemind/internal/models"
)

// Tables lists every model owned by this service
func Tables() []interface{} {
	return []interface{}{
		&models.Account{},
		&models.SocialEdge{},
		&models.TasteAlignment{},
		&models.RewardRecord{},
		&models.PendingBalance{},
		&models.EligibilityWindow{},
		&models.ClaimAttempt{},
		&models.OutboxMessage{},
	}
}

// Partial unique indexes GORM tags cannot express. Both are valid on
// PostgreSQL and SQLite.
var partialIndexes = []string{
	// at most one non-reversed record per targeted action instance
	`CREATE UNIQUE INDEX IF NOT EXISTS reward_records_action_target_ux
		ON reward_records (account_id, action, target_id)
		WHERE target_id IS NOT NULL AND status <> 'reversed'`,
	// at most one non-terminal claim per account
	`CREATE UNIQUE INDEX IF NOT EXISTS claim_attempts_open_ux
		ON claim_attempts (account_id)
		WHERE status IN ('initiated', 'submitted')`,
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Tables()...); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
