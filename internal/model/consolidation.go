package model

import "time"

// Consolidation phases, executed in order
type ConsolidationPhase string

const (
	PhaseFilter ConsolidationPhase = "filter"
	PhaseDedup  ConsolidationPhase = "dedup"
	PhaseAdapt  ConsolidationPhase = "adapt"
)

// Consolidation job states
type ConsolidationStatus string

const (
	ConsolidationRunning   ConsolidationStatus = "running"
	ConsolidationCompleted ConsolidationStatus = "completed"
	ConsolidationError     ConsolidationStatus = "error"
)

// ConsolidationJob tracks one run of the three-pass FAQ pipeline
type ConsolidationJob struct {
	ID          string              `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID string              `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	Status      ConsolidationStatus `json:"status" gorm:"type:varchar(50);not null"`
	Phase       ConsolidationPhase  `json:"phase" gorm:"type:varchar(20);not null"`
	ChunkIndex  int                 `json:"chunk_index" gorm:"default:0"`
	RelayDepth  int                 `json:"relay_depth" gorm:"default:0"`
	LastError   *string             `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// TableName specifies the table name for ConsolidationJob
func (ConsolidationJob) TableName() string {
	return "consolidation_jobs"
}

// ConsolidationCheckpoint durably holds the phase accumulator between
// bounded work units. The carried payload's shape is phase-specific and
// must be interpreted according to Phase.
type ConsolidationCheckpoint struct {
	JobID      string             `json:"job_id" gorm:"type:varchar(36);primaryKey"`
	Phase      ConsolidationPhase `json:"phase" gorm:"type:varchar(20);not null"`
	ChunkIndex int                `json:"chunk_index"`
	Carried    []byte             `json:"carried" gorm:"type:jsonb"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// TableName specifies the table name for ConsolidationCheckpoint
func (ConsolidationCheckpoint) TableName() string {
	return "consolidation_checkpoints"
}
