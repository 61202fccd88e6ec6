package model

import "time"

// Direction distinguishes received from self-sent mail
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Processing states for a staging row's classification
const (
	ProcessingPending     = "pending"
	ProcessingClassified  = "classified"
	ProcessingNeedsReview = "needs_review"
	ProcessingUnknown     = "unknown"
)

// StagingMessage is a raw ingested email awaiting classification.
// (workspace_id, external_id) is unique; re-ingestion of the same
// external id is a no-op.
type StagingMessage struct {
	ID               string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID      string    `json:"workspace_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_staging_workspace_external;index"`
	ExternalID       string    `json:"external_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_staging_workspace_external"`
	ThreadID         string    `json:"thread_id" gorm:"type:varchar(255);index"`
	Direction        Direction `json:"direction" gorm:"type:varchar(10);not null"`
	FromAddress      string    `json:"from_address" gorm:"type:varchar(255)"`
	ToAddress        string    `json:"to_address" gorm:"type:text"`
	Subject          string    `json:"subject" gorm:"type:text"`
	Snippet          string    `json:"snippet" gorm:"type:text"`
	RawBody          string    `json:"raw_body" gorm:"type:text"`
	Category         *string   `json:"category,omitempty" gorm:"type:varchar(100)"`
	RequiresReply    *bool     `json:"requires_reply,omitempty"`
	Confidence       *float64  `json:"confidence,omitempty"`
	Entities         []byte    `json:"entities,omitempty" gorm:"type:jsonb"`
	ProcessingStatus string    `json:"processing_status" gorm:"type:varchar(50);not null;default:'pending';index"`
	ReceivedAt       time.Time `json:"received_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name for StagingMessage
func (StagingMessage) TableName() string {
	return "staging_messages"
}
