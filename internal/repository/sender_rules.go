package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"mailflow-go/internal/model"
)

// SenderRuleRepository manages deterministic classification rules
type SenderRuleRepository struct {
	db *gorm.DB
}

func NewSenderRuleRepository(db *gorm.DB) *SenderRuleRepository {
	return &SenderRuleRepository{db: db}
}

// ListEnabled returns the workspace's active rules
func (r *SenderRuleRepository) ListEnabled(ctx context.Context, workspaceID string) ([]model.SenderRule, error) {
	var rules []model.SenderRule
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND enabled = ?", workspaceID, true).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sender rules: %w", err)
	}
	return rules, nil
}

// ListAll returns all rules for a workspace
func (r *SenderRuleRepository) ListAll(ctx context.Context, workspaceID string) ([]model.SenderRule, error) {
	var rules []model.SenderRule
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sender rules: %w", err)
	}
	return rules, nil
}

// Get returns one rule by id
func (r *SenderRuleRepository) Get(ctx context.Context, id uint) (*model.SenderRule, error) {
	var rule model.SenderRule
	if err := r.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// Create inserts a rule
func (r *SenderRuleRepository) Create(ctx context.Context, rule *model.SenderRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create sender rule: %w", err)
	}
	return nil
}

// Update saves a rule
func (r *SenderRuleRepository) Update(ctx context.Context, rule *model.SenderRule) error {
	if err := r.db.WithContext(ctx).Save(rule).Error; err != nil {
		return fmt.Errorf("failed to update sender rule: %w", err)
	}
	return nil
}

// Delete soft-deletes a rule
func (r *SenderRuleRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&model.SenderRule{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete sender rule: %w", err)
	}
	return nil
}
