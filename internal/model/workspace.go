package model

import (
	"time"

	"gorm.io/gorm"
)

// Workspace represents a connected business mailbox and its settings
type Workspace struct {
	ID                string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name              string         `json:"name" gorm:"type:varchar(255);not null"`
	ProviderAccountID string         `json:"provider_account_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Provider          string         `json:"provider" gorm:"type:varchar(50);not null;default:'aurinko'"` // aurinko, gmail, imap
	OwnerEmail        string         `json:"owner_email" gorm:"type:varchar(255);not null"`
	BusinessType      string         `json:"business_type" gorm:"type:varchar(255)"`
	Services          string         `json:"services" gorm:"type:text"`
	VoiceProfile      *string        `json:"voice_profile,omitempty" gorm:"type:text"`
	ImportEnabled     bool           `json:"import_enabled" gorm:"default:true"`
	ImportTarget      int            `json:"import_target" gorm:"default:200"`
	AutoDraft         bool           `json:"auto_draft" gorm:"default:true"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Workspace
func (Workspace) TableName() string {
	return "workspaces"
}
