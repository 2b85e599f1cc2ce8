package models

import (
	"time"

	"gorm.io/datatypes"
)

// RuleStatus is the approval-workflow state of a routing rule. Only
// approved rules are ever evaluated.
type RuleStatus string

const (
	RuleDraft           RuleStatus = "draft"
	RulePendingApproval RuleStatus = "pending_approval"
	RuleApproved        RuleStatus = "approved"
	RuleRetired         RuleStatus = "retired"
)

// CatchAllPriority is the priority reserved for the guaranteed fallback
// rule. Every rule set must contain exactly one approved rule at this
// priority whose predicate matches everything.
const CatchAllPriority = 1000

// RoutingRule is a declarative, priority-ordered condition→target mapping.
// Predicate holds a tagged predicate tree (routing.Predicate) and Targets
// an ordered []RouteTarget, both as JSON. Lower priority number wins.
type RoutingRule struct {
	BaseModel
	RuleID   string `json:"rule_id" gorm:"uniqueIndex;not null;size:64"`
	Name     string `json:"name" gorm:"not null"`
	Priority int    `json:"priority" gorm:"index;not null"`

	Predicate datatypes.JSON `json:"predicate"`
	Targets   datatypes.JSON `json:"targets"`

	// Canary rollout: a deterministic hash-bucketed CanaryPercent of
	// matching traffic is routed to CanaryTargets first.
	CanaryPercent int            `json:"canary_percent"`
	CanaryTargets datatypes.JSON `json:"canary_targets"`

	Status      RuleStatus `json:"status" gorm:"size:20;index;not null"`
	SubmittedBy string     `json:"submitted_by" gorm:"size:64"`
	ApprovedBy  string     `json:"approved_by" gorm:"size:64"`
	ApprovedAt  *time.Time `json:"approved_at"`
}

// TableName specifies the table name
func (RoutingRule) TableName() string {
	return "routing_rules"
}
