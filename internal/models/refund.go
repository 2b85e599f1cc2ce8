package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundStatus tracks a refund request through decision and processing.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundApproved  RefundStatus = "approved"
	RefundDenied    RefundStatus = "denied"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
)

// RefundOrigin records who initiated the refund.
type RefundOrigin string

const (
	OriginAuto    RefundOrigin = "auto"
	OriginManual  RefundOrigin = "manual"
	OriginDispute RefundOrigin = "dispute"
)

// Refund decisions produced by the automation engine.
const (
	RefundDecisionAutoApprove  = "auto_approve"
	RefundDecisionManualReview = "manual_review"
	RefundDecisionAutoReject   = "auto_reject"
)

// Refund is a request to return money for a captured transaction.
// Invariant: the sum of processed refund amounts for a transaction never
// exceeds its captured net amount.
type Refund struct {
	BaseModel
	RefundID      string `json:"refund_id" gorm:"uniqueIndex;not null;size:64"`
	TransactionID string `json:"transaction_id" gorm:"index;not null;size:64"`
	PlatformID    string `json:"platform_id" gorm:"index"`

	Amount   decimal.Decimal `json:"amount" gorm:"type:decimal(20,2)"`
	Currency string          `json:"currency" gorm:"size:3"`

	Reason string       `json:"reason" gorm:"size:255"`
	Origin RefundOrigin `json:"origin" gorm:"size:16"`
	Status RefundStatus `json:"status" gorm:"size:16;index;not null"`

	Decision       string `json:"decision" gorm:"size:20"`
	DecisionReason string `json:"decision_reason" gorm:"size:255"`

	TrustScoreRecordID string `json:"trust_score_record_id" gorm:"size:64"`
	ExternalID         string `json:"external_id" gorm:"size:100"`

	ProcessedAt *time.Time `json:"processed_at"`
}

// TableName specifies the table name
func (Refund) TableName() string {
	return "refunds"
}
