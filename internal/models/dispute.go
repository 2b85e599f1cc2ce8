package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisputeStage is the chargeback lifecycle stage. Transitions are driven
// by inbound processor events; the only autonomous transition is the
// deadline sweep advancing a stage whose response deadline has passed.
type DisputeStage string

const (
	DisputeOpen           DisputeStage = "open"
	DisputeResponseDue    DisputeStage = "response_due"
	DisputePreArbitration DisputeStage = "pre_arbitration"
	DisputeArbitration    DisputeStage = "arbitration"
	DisputeClosed         DisputeStage = "closed"
)

// DisputeOutcome is the terminal result of a closed dispute.
type DisputeOutcome string

const (
	OutcomeWon      DisputeOutcome = "won"
	OutcomeLost     DisputeOutcome = "lost"
	OutcomeAccepted DisputeOutcome = "accepted"
	OutcomePartial  DisputeOutcome = "partial"
)

// Dispute tracks a payer-initiated reversal claim against a captured
// transaction.
type Dispute struct {
	BaseModel
	DisputeID     string `json:"dispute_id" gorm:"uniqueIndex;not null;size:64"`
	TransactionID string `json:"transaction_id" gorm:"index;not null;size:64"`
	PlatformID    string `json:"platform_id" gorm:"index"`

	Processor         string `json:"processor" gorm:"size:32;uniqueIndex:idx_processor_external_dispute"`
	ExternalDisputeID string `json:"external_dispute_id" gorm:"size:100;uniqueIndex:idx_processor_external_dispute"`

	Type  string         `json:"type" gorm:"size:32"` // fraud | product_not_received | duplicate | ...
	Stage DisputeStage   `json:"stage" gorm:"size:20;index;not null"`
	Outcome DisputeOutcome `json:"outcome" gorm:"size:16"`

	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(20,2)"`
	FeeAmount decimal.Decimal `json:"fee_amount" gorm:"type:decimal(20,2)"`
	Currency  string          `json:"currency" gorm:"size:3"`

	ResponseDeadline  *time.Time `json:"response_deadline" gorm:"index"`
	ResponseSubmitted bool       `json:"response_submitted"`
	ClosedAt          *time.Time `json:"closed_at"`
}

// TableName specifies the table name
func (Dispute) TableName() string {
	return "disputes"
}
