package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mailflow-go/internal/model"
)

// ImportJobRepository is the checkpoint store for import jobs
type ImportJobRepository struct {
	db *gorm.DB
}

func NewImportJobRepository(db *gorm.DB) *ImportJobRepository {
	return &ImportJobRepository{db: db}
}

// GetByID returns a job by primary key
func (r *ImportJobRepository) GetByID(ctx context.Context, id string) (*model.ImportJob, error) {
	var job model.ImportJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get import job %s: %w", id, err)
	}
	return &job, nil
}

// GetActive returns the workspace's non-terminal job, or nil when there
// is none
func (r *ImportJobRepository) GetActive(ctx context.Context, workspaceID string) (*model.ImportJob, error) {
	var job model.ImportJob
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND status NOT IN ?", workspaceID,
			[]model.ImportStatus{model.ImportStatusCompleted, model.ImportStatusError, model.ImportStatusCancelled}).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active import job: %w", err)
	}
	return &job, nil
}

// GetLatest returns the workspace's most recent job for status display
func (r *ImportJobRepository) GetLatest(ctx context.Context, workspaceID string) (*model.ImportJob, error) {
	var job model.ImportJob
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest import job: %w", err)
	}
	return &job, nil
}

// Create inserts a new job row
func (r *ImportJobRepository) Create(ctx context.Context, job *model.ImportJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

// Update checkpoints the whole job row
func (r *ImportJobRepository) Update(ctx context.Context, job *model.ImportJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to checkpoint import job: %w", err)
	}
	return nil
}

// Cancel flips a non-terminal job to cancelled. The importer checks
// the flag at the top of each work unit; an in-flight batch still runs
// to its next checkpoint.
func (r *ImportJobRepository) Cancel(ctx context.Context, workspaceID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.ImportJob{}).
		Where("workspace_id = ? AND status NOT IN ?", workspaceID,
			[]model.ImportStatus{model.ImportStatusCompleted, model.ImportStatusError, model.ImportStatusCancelled}).
		Update("status", model.ImportStatusCancelled)
	if result.Error != nil {
		return false, fmt.Errorf("failed to cancel import job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
