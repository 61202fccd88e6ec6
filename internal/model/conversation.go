package model

import "time"

// Customer is a correspondent of the workspace owner
type Customer struct {
	ID          string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_customer_workspace_email"`
	Email       string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex:idx_customer_workspace_email"`
	Name        string    `json:"name" gorm:"type:varchar(255)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for Customer
func (Customer) TableName() string {
	return "customers"
}

// Conversation groups messages by the upstream provider's thread id
type Conversation struct {
	ID               string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID      string     `json:"workspace_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_conversation_workspace_thread"`
	ExternalThreadID string     `json:"external_thread_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_conversation_workspace_thread"`
	CustomerID       string     `json:"customer_id" gorm:"type:varchar(36);index"`
	Subject          string     `json:"subject" gorm:"type:text"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// Message is a delivered email within a conversation
type Message struct {
	ID             string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID    string    `json:"workspace_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_message_workspace_external"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(36);not null;index"`
	ExternalID     string    `json:"external_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_message_workspace_external"`
	Direction      Direction `json:"direction" gorm:"type:varchar(10);not null"`
	FromAddress    string    `json:"from_address" gorm:"type:varchar(255)"`
	ToAddress      string    `json:"to_address" gorm:"type:text"`
	Subject        string    `json:"subject" gorm:"type:text"`
	Body           string    `json:"body" gorm:"type:text"`
	SentAt         time.Time `json:"sent_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for Message
func (Message) TableName() string {
	return "messages"
}
