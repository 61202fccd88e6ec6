package service

import (
	"context"
	"time"

	"mailflow-go/internal/model"
)

// Enqueuer hands continuation and handoff payloads to the work queue
type Enqueuer interface {
	Send(ctx context.Context, queue string, payload []byte, delay time.Duration) error
}

// Locker serializes workers per (workspace, name)
type Locker interface {
	Acquire(ctx context.Context, workspaceID, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, workspaceID, name string) error
}

// ImportJobStore is the importer's checkpoint store
type ImportJobStore interface {
	GetByID(ctx context.Context, id string) (*model.ImportJob, error)
	GetActive(ctx context.Context, workspaceID string) (*model.ImportJob, error)
	Create(ctx context.Context, job *model.ImportJob) error
	Update(ctx context.Context, job *model.ImportJob) error
}

// StagingStore is the staging table surface the pipeline needs
type StagingStore interface {
	UpsertBatch(ctx context.Context, rows []model.StagingMessage) (int64, error)
	CountByDirection(ctx context.Context, workspaceID string, since time.Time) (inbound, outbound int64, err error)
	FetchUnclassified(ctx context.Context, workspaceID string, limit int) ([]model.StagingMessage, error)
	CountUnclassified(ctx context.Context, workspaceID string) (int64, error)
	UpdateClassification(ctx context.Context, row *model.StagingMessage) error
	FetchOutboundClassified(ctx context.Context, workspaceID string, limit int) ([]model.StagingMessage, error)
}

// WorkspaceStore is the workspace surface the pipeline needs
type WorkspaceStore interface {
	GetByID(ctx context.Context, id string) (*model.Workspace, error)
	SetVoiceProfile(ctx context.Context, id, profile string) error
}

// SenderRuleStore lists active deterministic classification rules
type SenderRuleStore interface {
	ListEnabled(ctx context.Context, workspaceID string) ([]model.SenderRule, error)
}

// FAQStore is the consolidation pipeline's data surface
type FAQStore interface {
	CountCompetitorFAQs(ctx context.Context, workspaceID string) (int64, error)
	FetchCompetitorChunk(ctx context.Context, workspaceID string, chunkIndex, chunkSize int) ([]model.CompetitorFAQ, error)
	FetchCompetitorByIDs(ctx context.Context, workspaceID string, ids []uint) ([]model.CompetitorFAQ, error)
	ListOwnerFAQs(ctx context.Context, workspaceID string) ([]model.OwnerFAQ, error)
	ReplaceAdapted(ctx context.Context, workspaceID string, rows []model.AdaptedFAQ) error
	GetConsolidationJob(ctx context.Context, id string) (*model.ConsolidationJob, error)
	CreateConsolidationJob(ctx context.Context, job *model.ConsolidationJob) error
	UpdateConsolidationJob(ctx context.Context, job *model.ConsolidationJob) error
	SaveCheckpoint(ctx context.Context, cp *model.ConsolidationCheckpoint) error
	LoadCheckpoint(ctx context.Context, jobID string) (*model.ConsolidationCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, jobID string) error
}

// ConversationStore reads delivered conversation history
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
}

// DraftStore persists generated reply drafts
type DraftStore interface {
	Create(ctx context.Context, draft *model.Draft) error
	GetByID(ctx context.Context, id string) (*model.Draft, error)
	MarkSent(ctx context.Context, id string) error
}

// ReplySender delivers an approved draft through the owner's mailbox
type ReplySender interface {
	SendReply(ctx context.Context, from, to, subject, body, threadID string) error
}

// Completer is the LLM gateway surface the pipeline needs
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
