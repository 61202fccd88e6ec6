package model

import "time"

// WorkerLock is a per-(workspace, worker name) lease. Absence of a row
// means unlocked; an expired lease may be taken over by a new holder.
type WorkerLock struct {
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(36);primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(100);primaryKey"`
	LockedBy    string    `json:"locked_by" gorm:"type:varchar(100);not null"`
	LockedAt    time.Time `json:"locked_at"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"index"`
}

// TableName specifies the table name for WorkerLock
func (WorkerLock) TableName() string {
	return "worker_locks"
}
