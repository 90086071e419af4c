package models

import (
	"time"
)

// SocialEdge represents a directed follow relationship
type SocialEdge struct {
	FollowerID string    `gorm:"primaryKey;type:varchar(64);column:follower_id"`
	FolloweeID string    `gorm:"primaryKey;type:varchar(64);column:followee_id"`
	Weight     float64   `gorm:"not null;default:1;column:weight"`
	IsActive   bool      `gorm:"not null;default:true;index:social_edges_active_ix;column:is_active"`
	CreatedAt  time.Time `gorm:"not null;column:created_at"`
	UpdatedAt  time.Time `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for SocialEdge
func (SocialEdge) TableName() string {
	return "social_edges"
}

// TasteAlignment is a precomputed similarity between two accounts' tastes
type TasteAlignment struct {
	ViewerID        string    `gorm:"primaryKey;type:varchar(64);column:viewer_id"`
	ComparedUserID  string    `gorm:"primaryKey;type:varchar(64);column:compared_user_id"`
	SimilarityScore float64   `gorm:"not null;column:similarity_score"`
	ConfidenceLevel float64   `gorm:"not null;column:confidence_level"`
	UpdatedAt       time.Time `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for TasteAlignment
func (TasteAlignment) TableName() string {
	return "taste_alignments"
}
