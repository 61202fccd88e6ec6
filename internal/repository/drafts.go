package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"mailflow-go/internal/model"
)

// DraftRepository stores AI-generated reply drafts
type DraftRepository struct {
	db *gorm.DB
}

func NewDraftRepository(db *gorm.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// Create inserts a draft
func (r *DraftRepository) Create(ctx context.Context, draft *model.Draft) error {
	if err := r.db.WithContext(ctx).Create(draft).Error; err != nil {
		return fmt.Errorf("failed to create draft: %w", err)
	}
	return nil
}

// GetByID loads a draft by id
func (r *DraftRepository) GetByID(ctx context.Context, id string) (*model.Draft, error) {
	var draft model.Draft
	if err := r.db.WithContext(ctx).First(&draft, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get draft %s: %w", id, err)
	}
	return &draft, nil
}

// MarkSent flips a draft to sent
func (r *DraftRepository) MarkSent(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&model.Draft{}).
		Where("id = ?", id).
		Update("status", model.DraftSent)
	if result.Error != nil {
		return fmt.Errorf("failed to mark draft sent: %w", result.Error)
	}
	return nil
}

// DeadLetterRepository inspects dead-lettered queue messages
type DeadLetterRepository struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// ListRecent returns the newest dead letters
func (r *DeadLetterRepository) ListRecent(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	var rows []model.DeadLetter
	err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return rows, nil
}
