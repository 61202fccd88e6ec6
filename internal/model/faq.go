package model

import "time"

// CompetitorFAQ is a scraped FAQ from a competitor site, input to the
// consolidation pipeline
type CompetitorFAQ struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	Question    string    `json:"question" gorm:"type:text;not null"`
	Answer      string    `json:"answer" gorm:"type:text"`
	SourceURL   string    `json:"source_url" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for CompetitorFAQ
func (CompetitorFAQ) TableName() string {
	return "competitor_faqs"
}

// OwnerFAQ is an FAQ the business owner wrote themselves; adapted
// competitor topics never duplicate these
type OwnerFAQ struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	Question    string    `json:"question" gorm:"type:text;not null"`
	Answer      string    `json:"answer" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for OwnerFAQ
func (OwnerFAQ) TableName() string {
	return "owner_faqs"
}

// AdaptedFAQ is a surviving competitor topic rewritten in the owner's
// voice. Re-running consolidation replaces a workspace's rows wholesale.
type AdaptedFAQ struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	Question    string    `json:"question" gorm:"type:text;not null"`
	Answer      string    `json:"answer" gorm:"type:text"`
	SourceFAQID uint      `json:"source_faq_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for AdaptedFAQ
func (AdaptedFAQ) TableName() string {
	return "competitor_adapted"
}
