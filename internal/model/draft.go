package model

import "time"

// Draft states
const (
	DraftPendingReview = "pending_review"
	DraftSent          = "sent"
	DraftDiscarded     = "discarded"
)

// Draft is an AI-generated reply awaiting owner review
type Draft struct {
	ID             string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID    string    `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(36);not null;index"`
	Body           string    `json:"body" gorm:"type:text;not null"`
	Status         string    `json:"status" gorm:"type:varchar(50);not null;default:'pending_review'"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for Draft
func (Draft) TableName() string {
	return "drafts"
}
