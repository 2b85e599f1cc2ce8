package models

import "gorm.io/datatypes"

// TrustDecision is the scoring engine's verdict.
type TrustDecision string

const (
	DecisionAllow     TrustDecision = "allow"
	DecisionChallenge TrustDecision = "challenge"
	DecisionBlock     TrustDecision = "block"
)

// EntityType identifies what kind of entity a trust score was computed for.
type EntityType string

const (
	EntityTransaction   EntityType = "transaction"
	EntityRefundRequest EntityType = "refund_request"
	EntityUser          EntityType = "user"
)

// TrustScoreRecord is one scoring invocation. Created once, never updated;
// re-scoring the same entity creates a new record.
type TrustScoreRecord struct {
	BaseModel
	RecordID   string     `json:"record_id" gorm:"uniqueIndex;not null;size:64"`
	EntityType EntityType `json:"entity_type" gorm:"size:20;index;not null"`
	EntityID   string     `json:"entity_id" gorm:"index;not null;size:64"`
	PlatformID string     `json:"platform_id" gorm:"index"`

	Score      int           `json:"score"`
	Confidence int           `json:"confidence"`
	Decision   TrustDecision `json:"decision" gorm:"size:16;index"`

	ReasonCodes    datatypes.JSON `json:"reason_codes"`    // ordered []string
	Contributions  datatypes.JSON `json:"contributions"`   // per-group score and weight
	SignalSnapshot datatypes.JSON `json:"signal_snapshot"` // the bag the score was computed from

	PolicyVersion string `json:"policy_version" gorm:"size:32"`
}

// TableName specifies the table name
func (TrustScoreRecord) TableName() string {
	return "trust_score_records"
}
