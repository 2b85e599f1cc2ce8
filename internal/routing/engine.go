// Package routing selects the ordered list of (processor, merchant
// account) candidates a charge should attempt. Rule evaluation is a pure
// computation over a read-only snapshot of the approved rule set.
package routing

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"

	"payout-core/internal/models"

	"github.com/shopspring/decimal"
)

// RuleSource supplies the approved rule set snapshot. Backed by
// database.Store in production.
type RuleSource interface {
	ListApprovedRules() ([]models.RoutingRule, error)
}

// RouteRequest describes the charge to route.
type RouteRequest struct {
	PlatformID    string
	Amount        decimal.Decimal
	Currency      string
	RiskTier      string
	Type          string
	PayerID       string
	ProcessorHint string // optional: prefer this processor among the candidates
}

// Decision is the routing outcome: which rule matched and the ordered
// candidate list to attempt.
type Decision struct {
	RuleID     string
	Canary     bool
	Candidates []models.RouteTarget
}

// Engine evaluates the approved routing rule set.
type Engine struct {
	rules RuleSource
}

// NewEngine creates a routing engine over the given rule source
func NewEngine(rules RuleSource) *Engine {
	return &Engine{rules: rules}
}

// Route fetches the approved snapshot and evaluates it.
func (e *Engine) Route(req RouteRequest) (*Decision, error) {
	snapshot, err := e.rules.ListApprovedRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load routing rules: %w", err)
	}
	return Evaluate(snapshot, req)
}

// Evaluate runs the rule set against a request: approved rules only,
// ascending priority with ties broken by rule id, first match wins. The
// snapshot must contain the catch-all; a rule set that can fail to match
// is a configuration error, not a routing outcome.
func Evaluate(snapshot []models.RoutingRule, req RouteRequest) (*Decision, error) {
	hasCatchAll := false
	for _, rule := range snapshot {
		if rule.Priority == models.CatchAllPriority {
			hasCatchAll = true
			break
		}
	}
	if !hasCatchAll {
		return nil, fmt.Errorf("routing rule set has no catch-all rule")
	}

	sorted := make([]models.RoutingRule, len(snapshot))
	copy(sorted, snapshot)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].RuleID < sorted[j].RuleID
	})

	for _, rule := range sorted {
		var predicate Predicate
		if err := json.Unmarshal(rule.Predicate, &predicate); err != nil {
			return nil, fmt.Errorf("rule %s has a malformed predicate: %w", rule.RuleID, err)
		}
		matched, err := predicate.Matches(req)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.RuleID, err)
		}
		if !matched {
			continue
		}
		return expand(rule, req)
	}

	// Unreachable as long as the catch-all predicate matches everything.
	return nil, fmt.Errorf("no routing rule matched the request")
}

// expand turns a matched rule into the ordered candidate list, applying
// canary dilution and the processor hint.
func expand(rule models.RoutingRule, req RouteRequest) (*Decision, error) {
	var targets []models.RouteTarget
	if err := json.Unmarshal(rule.Targets, &targets); err != nil {
		return nil, fmt.Errorf("rule %s has malformed targets: %w", rule.RuleID, err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("rule %s has no targets", rule.RuleID)
	}

	decision := &Decision{RuleID: rule.RuleID, Candidates: targets}

	// Canary rollout: a deterministic hash bucket of the payer id sends
	// CanaryPercent of matching traffic to the canary targets first. The
	// bucketing is stable so a given payer is always on the same side of
	// the rollout, which keeps the decision auditable.
	if rule.CanaryPercent > 0 && len(rule.CanaryTargets) > 0 {
		if canaryBucket(req.PayerID) < rule.CanaryPercent {
			var canary []models.RouteTarget
			if err := json.Unmarshal(rule.CanaryTargets, &canary); err != nil {
				return nil, fmt.Errorf("rule %s has malformed canary targets: %w", rule.RuleID, err)
			}
			decision.Canary = true
			decision.Candidates = append(canary, targets...)
		}
	}

	if req.ProcessorHint != "" {
		decision.Candidates = preferProcessor(decision.Candidates, req.ProcessorHint)
	}

	return decision, nil
}

// canaryBucket maps a payer id onto [0,100)
func canaryBucket(payerID string) int {
	h := fnv.New32a()
	h.Write([]byte(payerID))
	return int(h.Sum32() % 100)
}

// preferProcessor stably moves candidates for the hinted processor to the
// front without dropping the rest.
func preferProcessor(candidates []models.RouteTarget, hint string) []models.RouteTarget {
	var preferred, rest []models.RouteTarget
	for _, c := range candidates {
		if c.ProcessorCode == hint {
			preferred = append(preferred, c)
		} else {
			rest = append(rest, c)
		}
	}
	if len(preferred) == 0 {
		return candidates
	}
	return append(preferred, rest...)
}
