package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionStatus is the lifecycle state of a Transaction. The stored
// status is always derivable as a fold over the transaction's events.
type TransactionStatus string

const (
	StatusInitiated         TransactionStatus = "initiated"
	StatusRouted            TransactionStatus = "routed"
	StatusAuthorized        TransactionStatus = "authorized"
	StatusCaptured          TransactionStatus = "captured"
	StatusSettled           TransactionStatus = "settled"
	StatusFailed            TransactionStatus = "failed"
	StatusRefunded          TransactionStatus = "refunded"
	StatusPartiallyRefunded TransactionStatus = "partially_refunded"
)

// TransactionType classifies what the payer bought.
type TransactionType string

const (
	TypeSubscription TransactionType = "subscription"
	TypeTip          TransactionType = "tip"
	TypePurchase     TransactionType = "purchase"
)

// statusTransitions defines the legal state machine edges.
var statusTransitions = map[TransactionStatus][]TransactionStatus{
	StatusInitiated:         {StatusRouted, StatusFailed},
	StatusRouted:            {StatusAuthorized, StatusFailed},
	StatusAuthorized:        {StatusCaptured, StatusFailed},
	StatusCaptured:          {StatusSettled, StatusRefunded, StatusPartiallyRefunded},
	StatusSettled:           {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusRefunded, StatusPartiallyRefunded, StatusSettled},
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further lifecycle transitions are possible.
func (s TransactionStatus) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Transaction is a single money movement from a fan/payer to a creator.
// Immutable once settled, except for linked refund/dispute references.
type Transaction struct {
	BaseModel
	TransactionID string `json:"transaction_id" gorm:"uniqueIndex;not null;size:64"`
	PlatformID    string `json:"platform_id" gorm:"index;not null"`
	PayerID       string `json:"payer_id" gorm:"index;size:64"`
	PayeeID       string `json:"payee_id" gorm:"index;size:64"`

	Type     TransactionType `json:"type" gorm:"size:20;index"`
	Currency string          `json:"currency" gorm:"size:3;not null"`

	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(20,2)"`
	Fee       decimal.Decimal `json:"fee" gorm:"type:decimal(20,2)"`
	NetAmount decimal.Decimal `json:"net_amount" gorm:"type:decimal(20,2)"`

	Status TransactionStatus `json:"status" gorm:"size:20;index;not null"`

	// Chosen route and the processor's reference once authorized.
	ProcessorCode       string `json:"processor_code" gorm:"size:32;index"`
	MerchantAccountCode string `json:"merchant_account_code" gorm:"size:32"`
	ExternalID          string `json:"external_id" gorm:"size:100;index"`

	TrustScore    int            `json:"trust_score"`
	RiskTier      string         `json:"risk_tier" gorm:"size:16"`
	RiskFlags     datatypes.JSON `json:"risk_flags"`
	FailureReason string         `json:"failure_reason" gorm:"size:255"`

	AuthorizedAt *time.Time `json:"authorized_at"`
	CapturedAt   *time.Time `json:"captured_at"`
	SettledAt    *time.Time `json:"settled_at"`
}

// TableName specifies the table name
func (Transaction) TableName() string {
	return "transactions"
}

// TransactionEvent is an append-only log entry tied to a Transaction.
// Never mutated after creation. EventID is the externally supplied
// webhook event id for processor events, or a generated id for internal
// attempts; the unique index is what makes replays idempotent.
type TransactionEvent struct {
	BaseModel
	TransactionID string `json:"transaction_id" gorm:"index;not null;size:64"`
	EventID       string `json:"event_id" gorm:"uniqueIndex;not null;size:100"`
	Processor     string `json:"processor" gorm:"size:32"`

	Type       string `json:"type" gorm:"size:40;index;not null"`
	Candidate  int    `json:"candidate"` // routing candidate position for attempt events
	ReasonCode string `json:"reason_code" gorm:"size:64"`

	// SHA-256 of the payload; a replayed event id with a different hash is
	// a data-integrity error, never silently resolved.
	PayloadHash string         `json:"payload_hash" gorm:"size:64"`
	Payload     datatypes.JSON `json:"payload"`

	OccurredAt time.Time `json:"occurred_at"`
}

// TableName specifies the table name
func (TransactionEvent) TableName() string {
	return "transaction_events"
}
