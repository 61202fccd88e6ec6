package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mailflow-go/internal/model"
)

// WorkspaceRepository reads and writes workspace rows
type WorkspaceRepository struct {
	db *gorm.DB
}

func NewWorkspaceRepository(db *gorm.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

// GetByID returns a workspace by primary key
func (r *WorkspaceRepository) GetByID(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace
	if err := r.db.WithContext(ctx).First(&ws, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get workspace %s: %w", id, err)
	}
	return &ws, nil
}

// GetByProviderAccountID resolves the workspace a webhook notification
// belongs to. Returns (nil, nil) when the account id is unknown so the
// caller can reject uniformly without surfacing an error.
func (r *WorkspaceRepository) GetByProviderAccountID(ctx context.Context, accountID string) (*model.Workspace, error) {
	var ws model.Workspace
	err := r.db.WithContext(ctx).First(&ws, "provider_account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider account: %w", err)
	}
	return &ws, nil
}

// ListImportEnabled returns workspaces eligible for scheduled
// incremental imports
func (r *WorkspaceRepository) ListImportEnabled(ctx context.Context) ([]model.Workspace, error) {
	var out []model.Workspace
	if err := r.db.WithContext(ctx).Where("import_enabled = ?", true).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return out, nil
}

// SetVoiceProfile stores a freshly learned voice profile
func (r *WorkspaceRepository) SetVoiceProfile(ctx context.Context, id, profile string) error {
	result := r.db.WithContext(ctx).Model(&model.Workspace{}).
		Where("id = ?", id).
		Update("voice_profile", profile)
	if result.Error != nil {
		return fmt.Errorf("failed to store voice profile: %w", result.Error)
	}
	return nil
}
