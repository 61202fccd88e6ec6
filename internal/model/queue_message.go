package model

import "time"

// QueueMessage is a durable FIFO queue entry. A message is only removed
// by an explicit delete after successful handling; a crashed handler's
// message reappears once its visibility window lapses.
type QueueMessage struct {
	ID         string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Queue      string    `json:"queue" gorm:"type:varchar(100);not null;index:idx_queue_visible"`
	Payload    []byte    `json:"payload" gorm:"type:jsonb;not null"`
	ReadCt     int       `json:"read_ct" gorm:"default:0"`
	VisibleAt  time.Time `json:"visible_at" gorm:"index:idx_queue_visible"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TableName specifies the table name for QueueMessage
func (QueueMessage) TableName() string {
	return "queue_messages"
}

// DeadLetter holds a queue message that exhausted its delivery budget,
// kept for manual inspection
type DeadLetter struct {
	ID       string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Queue    string    `json:"queue" gorm:"type:varchar(100);not null;index"`
	Payload  []byte    `json:"payload" gorm:"type:jsonb;not null"`
	ReadCt   int       `json:"read_ct"`
	Reason   string    `json:"reason" gorm:"type:text"`
	FailedAt time.Time `json:"failed_at"`
}

// TableName specifies the table name for DeadLetter
func (DeadLetter) TableName() string {
	return "dead_letters"
}
