package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/errors"
	"gorm.io/gorm"
)

// alertRuleRepository implements AlertRuleRepository.
type alertRuleRepository struct {
	db *gorm.DB
}

// NewAlertRuleRepository creates a new AlertRuleRepository.
func NewAlertRuleRepository(db *gorm.DB) AlertRuleRepository {
	return &alertRuleRepository{db: db}
}

// ListRules returns alert rules matching the given filter.
func (r *alertRuleRepository) ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error) {
	var rules []entities.AlertRule
	query := r.db.WithContext(ctx)

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if filter.BuiltIn != nil {
		query = query.Where("built_in = ?", *filter.BuiltIn)
	}

	if err := query.Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

// GetRule returns a single alert rule by ID.
// Returns ErrAlertRuleNotFound if the rule does not exist.
func (r *alertRuleRepository) GetRule(ctx context.Context, id uint) (*entities.AlertRule, error) {
	var rule entities.AlertRule
	if err := r.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule %d: %w", id, err)
	}
	return &rule, nil
}

// CreateRule creates a new alert rule.
func (r *alertRuleRepository) CreateRule(ctx context.Context, rule *entities.AlertRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

// UpdateRule saves changes to an existing alert rule.
func (r *alertRuleRepository) UpdateRule(ctx context.Context, rule *entities.AlertRule) error {
	if rule.ID == 0 {
		return fmt.Errorf("failed to update alert rule: missing rule ID")
	}
	if err := r.db.WithContext(ctx).Save(rule).Error; err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}
	return nil
}

// DeleteRule deletes an alert rule; its history rows cascade.
func (r *alertRuleRepository) DeleteRule(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entities.AlertRule{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete alert rule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

// ToggleRule enables or disables an alert rule.
func (r *alertRuleRepository) ToggleRule(ctx context.Context, id uint, enabled bool) error {
	result := r.db.WithContext(ctx).Model(&entities.AlertRule{}).Where("id = ?", id).Update("enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("failed to toggle alert rule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

// GetEnabledRules returns all enabled alert rules.
func (r *alertRuleRepository) GetEnabledRules(ctx context.Context) ([]entities.AlertRule, error) {
	enabled := true
	return r.ListRules(ctx, AlertRuleFilter{Enabled: &enabled})
}

// CountRulesByName returns the number of rules with the given name.
func (r *alertRuleRepository) CountRulesByName(ctx context.Context, name string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.AlertRule{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count rules by name: %w", err)
	}
	return count, nil
}

// SaveHistory saves an alert history entry.
func (r *alertRuleRepository) SaveHistory(ctx context.Context, history *entities.AlertHistory) error {
	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		return fmt.Errorf("failed to save alert history: %w", err)
	}
	return nil
}

// ListHistory returns alert history entries matching the filter with pagination.
func (r *alertRuleRepository) ListHistory(ctx context.Context, filter AlertHistoryFilter) ([]entities.AlertHistory, int64, error) {
	var items []entities.AlertHistory
	var total int64

	countQuery := r.db.WithContext(ctx).Model(&entities.AlertHistory{})
	if filter.RuleID > 0 {
		countQuery = countQuery.Where("rule_id = ?", filter.RuleID)
	}
	if filter.DeviceID > 0 {
		countQuery = countQuery.Where("device_id = ?", filter.DeviceID)
	}
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alert history: %w", err)
	}

	query := r.db.WithContext(ctx).Preload("Rule").Order("fired_at DESC")
	if filter.RuleID > 0 {
		query = query.Where("rule_id = ?", filter.RuleID)
	}
	if filter.DeviceID > 0 {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alert history: %w", err)
	}
	return items, total, nil
}

// DeleteHistoryBefore deletes alert history entries older than the given time.
func (r *alertRuleRepository) DeleteHistoryBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("fired_at < ?", before).Delete(&entities.AlertHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete alert history before %v: %w", before, result.Error)
	}
	return result.RowsAffected, nil
}
