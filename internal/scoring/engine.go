// Package scoring implements the trust scoring engine.
//
// The engine is a deterministic weighted ensemble: each signal group
// (device, network, payment, behavioral, platform) produces a partial
// score in [0,100] plus reason codes; partials are combined with
// configurable weights and the total is clamped to [0,100]. The engine
// is pure, never reading storage or waiting on I/O, so two calls with
// the same bag and policy version always produce the same result.
// Persisting the resulting TrustScoreRecord is the caller's job.
package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"payout-core/internal/config"
	"payout-core/internal/models"

	"github.com/google/uuid"
)

// Group identifies a signal group.
type Group string

const (
	GroupDevice     Group = "device"
	GroupNetwork    Group = "network"
	GroupPayment    Group = "payment"
	GroupBehavioral Group = "behavioral"
	GroupPlatform   Group = "platform"
)

// groupOrder fixes evaluation order so reason codes come out in a
// reproducible sequence.
var groupOrder = []Group{GroupDevice, GroupNetwork, GroupPayment, GroupBehavioral, GroupPlatform}

// ReasonPartialSignals is added whenever a required signal group was
// unavailable and the score was produced from the remaining groups.
const ReasonPartialSignals = "partial_signals"

// Policy is the versioned, read-only scoring configuration. Thresholds
// are configuration, not code; boundary values satisfy the threshold
// they name (>= approve → allow, <= reject → block).
type Policy struct {
	Version              string
	AutoApproveThreshold int
	AutoRejectThreshold  int
	Weights              map[Group]float64
}

// PolicyFromConfig builds the policy from the loaded app configuration
func PolicyFromConfig() Policy {
	cfg := config.AppConfig
	return Policy{
		Version:              cfg.PolicyVersion,
		AutoApproveThreshold: cfg.AutoApproveThreshold,
		AutoRejectThreshold:  cfg.AutoRejectThreshold,
		Weights: map[Group]float64{
			GroupDevice:     cfg.WeightDevice,
			GroupNetwork:    cfg.WeightNetwork,
			GroupPayment:    cfg.WeightPayment,
			GroupBehavioral: cfg.WeightBehavioral,
			GroupPlatform:   cfg.WeightPlatform,
		},
	}
}

// Contribution explains how one signal group moved the score.
type Contribution struct {
	Group       Group    `json:"group"`
	Score       float64  `json:"score"`
	Weight      float64  `json:"weight"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
	Available   bool     `json:"available"`
}

// Result is one scoring invocation's output.
type Result struct {
	Score         int
	Confidence    int
	Decision      models.TrustDecision
	ReasonCodes   []string
	Contributions []Contribution
	Explanation   string
	PolicyVersion string
}

// Engine is the stateless trust scoring engine.
type Engine struct {
	policy Policy
}

// NewEngine validates the policy and creates an engine. Weights must sum
// to 1.0 and the reject threshold must not exceed the approve threshold.
func NewEngine(policy Policy) (*Engine, error) {
	var sum float64
	for _, g := range groupOrder {
		w, ok := policy.Weights[g]
		if !ok {
			return nil, fmt.Errorf("scoring policy is missing a weight for group %q", g)
		}
		if w < 0 {
			return nil, fmt.Errorf("scoring weight for group %q is negative", g)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return nil, fmt.Errorf("scoring weights must sum to 1.0, got %.4f", sum)
	}
	if policy.AutoRejectThreshold > policy.AutoApproveThreshold {
		return nil, fmt.Errorf("auto-reject threshold %d exceeds auto-approve threshold %d",
			policy.AutoRejectThreshold, policy.AutoApproveThreshold)
	}
	return &Engine{policy: policy}, nil
}

// groupScorer produces a partial score in [0,100] for one signal group.
// available is false when none of the group's signals are present.
type groupScorer func(models.EntityType, SignalBag) (score float64, codes []string, available bool)

var groupScorers = map[Group]groupScorer{
	GroupDevice:     scoreDevice,
	GroupNetwork:    scoreNetwork,
	GroupPayment:    scorePayment,
	GroupBehavioral: scoreBehavioral,
	GroupPlatform:   scorePlatform,
}

// Score evaluates a signal bag. It never refuses to score: when a signal
// group is unavailable the remaining weights are renormalized and the
// confidence drops by the missing share.
func (e *Engine) Score(entityType models.EntityType, bag SignalBag) Result {
	var (
		contributions []Contribution
		reasonCodes   []string
		weighted      float64
		weightUsed    float64
	)

	for _, g := range groupOrder {
		score, codes, available := groupScorers[g](entityType, bag)
		w := e.policy.Weights[g]
		contributions = append(contributions, Contribution{
			Group:       g,
			Score:       score,
			Weight:      w,
			ReasonCodes: codes,
			Available:   available,
		})
		if !available {
			continue
		}
		weighted += score * w
		weightUsed += w
		reasonCodes = append(reasonCodes, codes...)
	}

	var score float64
	if weightUsed > 0 {
		score = weighted / weightUsed
	}
	score = clamp(score, 0, 100)

	confidence := clamp(100*weightUsed, 0, 100)
	if weightUsed < 1.0-1e-9 {
		reasonCodes = append(reasonCodes, ReasonPartialSignals)
	}

	final := int(math.Round(score))
	result := Result{
		Score:         final,
		Confidence:    int(math.Round(confidence)),
		Decision:      e.decide(final),
		ReasonCodes:   reasonCodes,
		Contributions: contributions,
		PolicyVersion: e.policy.Version,
	}
	result.Explanation = buildExplanation(result)
	return result
}

// decide maps a score to a decision. The block branch is checked first so
// a degenerate policy where the bands overlap resolves to the stricter
// outcome.
func (e *Engine) decide(score int) models.TrustDecision {
	switch {
	case score <= e.policy.AutoRejectThreshold:
		return models.DecisionBlock
	case score >= e.policy.AutoApproveThreshold:
		return models.DecisionAllow
	default:
		return models.DecisionChallenge
	}
}

// TierForScore derives the routing risk tier from a trust score
func TierForScore(score int) string {
	switch {
	case score >= 80:
		return "low"
	case score >= 60:
		return "medium"
	case score >= 40:
		return "high"
	default:
		return "critical"
	}
}

// Record builds the immutable TrustScoreRecord for a result
func (r Result) Record(entityType models.EntityType, entityID, platformID string, bag SignalBag) *models.TrustScoreRecord {
	reasons, _ := json.Marshal(r.ReasonCodes)
	contributions, _ := json.Marshal(r.Contributions)
	snapshot, _ := json.Marshal(bag)
	return &models.TrustScoreRecord{
		RecordID:       "tsr_" + uuid.NewString(),
		EntityType:     entityType,
		EntityID:       entityID,
		PlatformID:     platformID,
		Score:          r.Score,
		Confidence:     r.Confidence,
		Decision:       r.Decision,
		ReasonCodes:    reasons,
		Contributions:  contributions,
		SignalSnapshot: snapshot,
		PolicyVersion:  r.PolicyVersion,
	}
}

func buildExplanation(r Result) string {
	parts := make([]string, 0, len(r.Contributions))
	for _, c := range r.Contributions {
		if !c.Available {
			parts = append(parts, fmt.Sprintf("%s: unavailable", c.Group))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %.0f (weight %.2f)", c.Group, c.Score, c.Weight))
	}
	return fmt.Sprintf("Trust score %d (%s), confidence %d. Groups: %s.",
		r.Score, r.Decision, r.Confidence, strings.Join(parts, "; "))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
