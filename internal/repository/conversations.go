package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailflow-go/internal/model"
)

// ConversationRepository manages customers, conversations and delivered
// messages. Creation paths are race-safe: a duplicate-key conflict from
// a concurrent writer is handled by re-fetching the winner's row.
type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// UpsertCustomer returns the workspace's customer for the address,
// creating it if absent
func (r *ConversationRepository) UpsertCustomer(ctx context.Context, workspaceID, email, name string) (*model.Customer, error) {
	var existing model.Customer
	err := r.db.WithContext(ctx).
		First(&existing, "workspace_id = ? AND email = ?", workspaceID, email).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}

	now := time.Now()
	customer := model.Customer{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Email:       email,
		Name:        name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = r.db.WithContext(ctx).Create(&customer).Error
	if err == nil {
		return &customer, nil
	}
	if isUniqueViolation(err) {
		// Lost the race; the winner's row is what we want.
		if err := r.db.WithContext(ctx).
			First(&existing, "workspace_id = ? AND email = ?", workspaceID, email).Error; err != nil {
			return nil, fmt.Errorf("failed to re-fetch customer after conflict: %w", err)
		}
		return &existing, nil
	}
	return nil, fmt.Errorf("failed to create customer: %w", err)
}

// UpsertConversation returns the conversation for the external thread,
// creating it if absent
func (r *ConversationRepository) UpsertConversation(ctx context.Context, workspaceID, threadID, customerID, subject string) (*model.Conversation, error) {
	var existing model.Conversation
	err := r.db.WithContext(ctx).
		First(&existing, "workspace_id = ? AND external_thread_id = ?", workspaceID, threadID).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}

	now := time.Now()
	conv := model.Conversation{
		ID:               uuid.New().String(),
		WorkspaceID:      workspaceID,
		ExternalThreadID: threadID,
		CustomerID:       customerID,
		Subject:          subject,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = r.db.WithContext(ctx).Create(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if isUniqueViolation(err) {
		if err := r.db.WithContext(ctx).
			First(&existing, "workspace_id = ? AND external_thread_id = ?", workspaceID, threadID).Error; err != nil {
			return nil, fmt.Errorf("failed to re-fetch conversation after conflict: %w", err)
		}
		return &existing, nil
	}
	return nil, fmt.Errorf("failed to create conversation: %w", err)
}

// InsertMessage stores a delivered message and bumps the conversation's
// last activity. A duplicate external id is a no-op and reports
// inserted=false.
func (r *ConversationRepository) InsertMessage(ctx context.Context, msg *model.Message) (bool, error) {
	inserted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "external_id"}},
			DoNothing: true,
		}).Create(msg)
		if result.Error != nil {
			return fmt.Errorf("failed to insert message: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		inserted = true

		err := tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("last_message_at", msg.SentAt).Error
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return nil
	})
	return inserted, err
}

// GetConversation loads a conversation by id
func (r *ConversationRepository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &conv, nil
}

// RecentMessages returns the newest messages of a conversation,
// oldest-first for prompt assembly
func (r *ConversationRepository) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sent_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation messages: %w", err)
	}
	// reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessage loads a delivered message by id
func (r *ConversationRepository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return &msg, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
