package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"mailflow-go/internal/model"
)

// FAQRepository manages competitor/owner/adapted FAQ rows and the
// consolidation pipeline's durable state
type FAQRepository struct {
	db *gorm.DB
}

func NewFAQRepository(db *gorm.DB) *FAQRepository {
	return &FAQRepository{db: db}
}

// CountCompetitorFAQs returns the consolidation input size
func (r *FAQRepository) CountCompetitorFAQs(ctx context.Context, workspaceID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.CompetitorFAQ{}).
		Where("workspace_id = ?", workspaceID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count competitor FAQs: %w", err)
	}
	return n, nil
}

// FetchCompetitorChunk returns one stable-ordered chunk of competitor
// FAQs. Ordering by id keeps chunk boundaries identical across relay
// hops.
func (r *FAQRepository) FetchCompetitorChunk(ctx context.Context, workspaceID string, chunkIndex, chunkSize int) ([]model.CompetitorFAQ, error) {
	var rows []model.CompetitorFAQ
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("id ASC").
		Offset(chunkIndex * chunkSize).
		Limit(chunkSize).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch competitor FAQ chunk: %w", err)
	}
	return rows, nil
}

// FetchCompetitorByIDs loads specific competitor FAQs preserving id order
func (r *FAQRepository) FetchCompetitorByIDs(ctx context.Context, workspaceID string, ids []uint) ([]model.CompetitorFAQ, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []model.CompetitorFAQ
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND id IN ?", workspaceID, ids).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch competitor FAQs by id: %w", err)
	}
	return rows, nil
}

// ListOwnerFAQs returns the owner's own FAQs
func (r *FAQRepository) ListOwnerFAQs(ctx context.Context, workspaceID string) ([]model.OwnerFAQ, error) {
	var rows []model.OwnerFAQ
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list owner FAQs: %w", err)
	}
	return rows, nil
}

// ReplaceAdapted replaces the workspace's adapted rows in one
// transaction, so re-running consolidation never duplicates
func (r *FAQRepository) ReplaceAdapted(ctx context.Context, workspaceID string, rows []model.AdaptedFAQ) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("workspace_id = ?", workspaceID).Delete(&model.AdaptedFAQ{}).Error; err != nil {
			return fmt.Errorf("failed to clear prior adapted FAQs: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to insert adapted FAQs: %w", err)
		}
		return nil
	})
}

// CountAdapted returns the number of adapted rows for a workspace
func (r *FAQRepository) CountAdapted(ctx context.Context, workspaceID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.AdaptedFAQ{}).
		Where("workspace_id = ?", workspaceID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count adapted FAQs: %w", err)
	}
	return n, nil
}

// GetConsolidationJob loads a consolidation job by id
func (r *FAQRepository) GetConsolidationJob(ctx context.Context, id string) (*model.ConsolidationJob, error) {
	var job model.ConsolidationJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get consolidation job %s: %w", id, err)
	}
	return &job, nil
}

// CreateConsolidationJob inserts a new consolidation job
func (r *FAQRepository) CreateConsolidationJob(ctx context.Context, job *model.ConsolidationJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create consolidation job: %w", err)
	}
	return nil
}

// UpdateConsolidationJob checkpoints the job row
func (r *FAQRepository) UpdateConsolidationJob(ctx context.Context, job *model.ConsolidationJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to update consolidation job: %w", err)
	}
	return nil
}

// SaveCheckpoint durably stores the phase accumulator between bounded
// work units
func (r *FAQRepository) SaveCheckpoint(ctx context.Context, cp *model.ConsolidationCheckpoint) error {
	cp.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(cp).Error; err != nil {
		return fmt.Errorf("failed to save consolidation checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the job's checkpoint, or nil when none exists
func (r *FAQRepository) LoadCheckpoint(ctx context.Context, jobID string) (*model.ConsolidationCheckpoint, error) {
	var cp model.ConsolidationCheckpoint
	err := r.db.WithContext(ctx).First(&cp, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load consolidation checkpoint: %w", err)
	}
	return &cp, nil
}

// DeleteCheckpoint removes the accumulator once the run completes
func (r *FAQRepository) DeleteCheckpoint(ctx context.Context, jobID string) error {
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&model.ConsolidationCheckpoint{}).Error; err != nil {
		return fmt.Errorf("failed to delete consolidation checkpoint: %w", err)
	}
	return nil
}
