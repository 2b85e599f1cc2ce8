package database

import (
	"fmt"
	"time"

	"payout-core/internal/models"

	"gorm.io/gorm"
)

// ListApprovedRules returns the active rule set snapshot, ordered by
// ascending priority then rule id. Unapproved rules are simply absent.
func (s *Store) ListApprovedRules() ([]models.RoutingRule, error) {
	var rules []models.RoutingRule
	err := s.db.Where("status = ?", models.RuleApproved).
		Order("priority ASC, rule_id ASC").Find(&rules).Error
	return rules, err
}

// ListRules returns every rule regardless of status (admin surface)
func (s *Store) ListRules() ([]models.RoutingRule, error) {
	var rules []models.RoutingRule
	err := s.db.Order("priority ASC, rule_id ASC").Find(&rules).Error
	return rules, err
}

// GetRuleByID fetches a routing rule
func (s *Store) GetRuleByID(ruleID string) (*models.RoutingRule, error) {
	var rule models.RoutingRule
	err := s.db.Where("rule_id = ?", ruleID).First(&rule).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("routing rule %s not found", ruleID)
		}
		return nil, err
	}
	return &rule, nil
}

// CreateRule inserts a new routing rule in draft state
func (s *Store) CreateRule(rule *models.RoutingRule) error {
	return s.db.Create(rule).Error
}

// SubmitRule moves a draft rule into the approval queue
func (s *Store) SubmitRule(ruleID, submittedBy string) error {
	result := s.db.Model(&models.RoutingRule{}).
		Where("rule_id = ? AND status = ?", ruleID, models.RuleDraft).
		Updates(map[string]interface{}{
			"status":       models.RulePendingApproval,
			"submitted_by": submittedBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("routing rule %s is not a draft", ruleID)
	}
	return nil
}

// ApproveRule activates a pending rule. Approval is what makes a rule
// visible to the routing engine.
func (s *Store) ApproveRule(ruleID, approvedBy string) error {
	now := time.Now()
	result := s.db.Model(&models.RoutingRule{}).
		Where("rule_id = ? AND status = ?", ruleID, models.RulePendingApproval).
		Updates(map[string]interface{}{
			"status":      models.RuleApproved,
			"approved_by": approvedBy,
			"approved_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("routing rule %s is not pending approval", ruleID)
	}
	return nil
}

// RetireRule removes a rule from evaluation. The catch-all cannot be
// retired.
func (s *Store) RetireRule(ruleID string) error {
	rule, err := s.GetRuleByID(ruleID)
	if err != nil {
		return err
	}
	if rule.Priority == models.CatchAllPriority {
		return fmt.Errorf("the catch-all rule cannot be retired")
	}
	return s.db.Model(&models.RoutingRule{}).
		Where("rule_id = ?", ruleID).
		Update("status", models.RuleRetired).Error
}
