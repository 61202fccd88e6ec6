package model

import (
	"time"

	"gorm.io/gorm"
)

// Sender rule match types
const (
	MatchExact    = "exact"
	MatchDomain   = "domain"
	MatchWildcard = "wildcard"
)

// SenderRule is a deterministic classification shortcut for a known
// sender: matched emails bypass the LLM entirely.
type SenderRule struct {
	ID            uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	WorkspaceID   string         `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	Pattern       string         `json:"pattern" gorm:"type:varchar(255);not null"`
	MatchType     string         `json:"match_type" gorm:"type:varchar(20);not null;default:'exact'"`
	Category      string         `json:"category" gorm:"type:varchar(100);not null"`
	RequiresReply bool           `json:"requires_reply" gorm:"default:false"`
	Enabled       bool           `json:"enabled" gorm:"default:true"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for SenderRule
func (SenderRule) TableName() string {
	return "sender_rules"
}
