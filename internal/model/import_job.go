package model

import "time"

// ImportStatus is the lifecycle state of an import job
type ImportStatus string

const (
	ImportStatusQueued        ImportStatus = "queued"
	ImportStatusScanningSent  ImportStatus = "scanning_sent"
	ImportStatusScanningInbox ImportStatus = "scanning_inbox"
	ImportStatusImporting     ImportStatus = "importing"
	ImportStatusClassifying   ImportStatus = "classifying"
	ImportStatusCompleted     ImportStatus = "completed"
	ImportStatusError         ImportStatus = "error"
	ImportStatusCancelled     ImportStatus = "cancelled"
)

// Terminal reports whether the status admits no further work
func (s ImportStatus) Terminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusError || s == ImportStatusCancelled
}

// Folder identifies a mailbox folder scanned by the importer
type Folder string

const (
	FolderSent  Folder = "SENT"
	FolderInbox Folder = "INBOX"
)

// Other returns the opposite folder
func (f Folder) Other() Folder {
	if f == FolderSent {
		return FolderInbox
	}
	return FolderSent
}

// ImportJob is the checkpoint row for a workspace mailbox import.
// Imported counts are always re-derived from the staging table, never
// trusted from in-memory accumulation.
type ImportJob struct {
	ID             string       `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID    string       `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	Status         ImportStatus `json:"status" gorm:"type:varchar(50);not null;index"`
	CurrentFolder  Folder       `json:"current_folder" gorm:"type:varchar(10);not null;default:'SENT'"`
	SentPageToken  *string      `json:"sent_page_token,omitempty" gorm:"type:text"`
	InboxPageToken *string      `json:"inbox_page_token,omitempty" gorm:"type:text"`
	SentExhausted  bool         `json:"sent_exhausted" gorm:"default:false"`
	InboxExhausted bool         `json:"inbox_exhausted" gorm:"default:false"`
	// InboxScanned is set after the first INBOX page fetch, even an empty
	// one, so a legitimately empty inbox can still complete the job.
	InboxScanned  bool       `json:"inbox_scanned" gorm:"default:false"`
	SentImported  int        `json:"sent_imported" gorm:"default:0"`
	InboxImported int        `json:"inbox_imported" gorm:"default:0"`
	TotalTarget   int        `json:"total_target" gorm:"not null"`
	RetryCount    int        `json:"retry_count" gorm:"default:0"`
	StalledRelays int        `json:"stalled_relays" gorm:"default:0"`
	LastProgress  int        `json:"last_progress" gorm:"default:0"`
	LastBatchAt   *time.Time `json:"last_batch_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for ImportJob
func (ImportJob) TableName() string {
	return "import_jobs"
}

// TotalImported returns the sum of per-folder imported counts
func (j *ImportJob) TotalImported() int {
	return j.SentImported + j.InboxImported
}

// PerFolderTarget returns the share of the total target each folder
// converges toward
func (j *ImportJob) PerFolderTarget() int {
	return j.TotalTarget / 2
}
