package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailflow-go/internal/model"
)

// StagingRepository manages the staging table of raw ingested messages
type StagingRepository struct {
	db *gorm.DB
}

func NewStagingRepository(db *gorm.DB) *StagingRepository {
	return &StagingRepository{db: db}
}

// UpsertBatch inserts rows, silently skipping any whose
// (workspace_id, external_id) already exists. It reports how many rows
// were actually inserted, so callers can tell a fresh page from a
// re-delivered one.
func (r *StagingRepository) UpsertBatch(ctx context.Context, rows []model.StagingMessage) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "external_id"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to upsert staging batch: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountByDirection re-derives the authoritative per-folder imported
// counts from the staging table. A non-zero since restricts the counts
// to rows staged at or after that instant, so an incremental job only
// sees its own progress.
func (r *StagingRepository) CountByDirection(ctx context.Context, workspaceID string, since time.Time) (inbound, outbound int64, err error) {
	base := r.db.WithContext(ctx).Model(&model.StagingMessage{}).
		Where("workspace_id = ?", workspaceID)
	if !since.IsZero() {
		base = base.Where("created_at >= ?", since)
	}

	err = base.Session(&gorm.Session{}).
		Where("direction = ?", model.DirectionInbound).
		Count(&inbound).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count inbound staging rows: %w", err)
	}

	err = base.Session(&gorm.Session{}).
		Where("direction = ?", model.DirectionOutbound).
		Count(&outbound).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbound staging rows: %w", err)
	}

	return inbound, outbound, nil
}

// FetchUnclassified returns up to limit rows still awaiting
// classification, oldest first
func (r *StagingRepository) FetchUnclassified(ctx context.Context, workspaceID string, limit int) ([]model.StagingMessage, error) {
	var rows []model.StagingMessage
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND processing_status = ?", workspaceID, model.ProcessingPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unclassified rows: %w", err)
	}
	return rows, nil
}

// CountUnclassified returns how many rows still await classification
func (r *StagingRepository) CountUnclassified(ctx context.Context, workspaceID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.StagingMessage{}).
		Where("workspace_id = ? AND processing_status = ?", workspaceID, model.ProcessingPending).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unclassified rows: %w", err)
	}
	return n, nil
}

// UpdateClassification writes one row's classification fields
func (r *StagingRepository) UpdateClassification(ctx context.Context, row *model.StagingMessage) error {
	err := r.db.WithContext(ctx).Model(&model.StagingMessage{}).
		Where("id = ?", row.ID).
		Updates(map[string]interface{}{
			"category":          row.Category,
			"requires_reply":    row.RequiresReply,
			"confidence":        row.Confidence,
			"entities":          row.Entities,
			"processing_status": row.ProcessingStatus,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update classification for %s: %w", row.ID, err)
	}
	return nil
}

// FetchOutboundClassified returns classified self-sent messages for
// voice learning, newest first
func (r *StagingRepository) FetchOutboundClassified(ctx context.Context, workspaceID string, limit int) ([]model.StagingMessage, error) {
	var rows []model.StagingMessage
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND direction = ? AND processing_status = ?",
			workspaceID, model.DirectionOutbound, model.ProcessingClassified).
		Order("received_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbound rows: %w", err)
	}
	return rows, nil
}
