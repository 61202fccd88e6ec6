package handler

import "time"

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse reports service health
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics"`
}

// ImportStartRequest starts a batch import
type ImportStartRequest struct {
	TotalTarget int `json:"total_target"`
}

// ImportStatusResponse reports import progress
type ImportStatusResponse struct {
	JobID         string     `json:"job_id"`
	Status        string     `json:"status"`
	SentImported  int        `json:"sent_imported"`
	InboxImported int        `json:"inbox_imported"`
	TotalTarget   int        `json:"total_target"`
	LastError     *string    `json:"last_error,omitempty"`
	LastBatchAt   *time.Time `json:"last_batch_at,omitempty"`
}

// SenderRuleRequest creates or updates a sender rule
type SenderRuleRequest struct {
	Pattern       string `json:"pattern" binding:"required"`
	MatchType     string `json:"match_type"`
	Category      string `json:"category" binding:"required"`
	RequiresReply bool   `json:"requires_reply"`
	Enabled       *bool  `json:"enabled"`
}

// SenderRuleResponse is a sender rule in API form
type SenderRuleResponse struct {
	ID            uint      `json:"id"`
	Pattern       string    `json:"pattern"`
	MatchType     string    `json:"match_type"`
	Category      string    `json:"category"`
	RequiresReply bool      `json:"requires_reply"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ConsolidationStatusResponse reports FAQ consolidation progress
type ConsolidationStatusResponse struct {
	JobID      string  `json:"job_id"`
	Status     string  `json:"status"`
	Phase      string  `json:"phase"`
	ChunkIndex int     `json:"chunk_index"`
	LastError  *string `json:"last_error,omitempty"`
}
