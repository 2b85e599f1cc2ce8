package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentProcessor is a third-party payment rail (card, bank or crypto)
// the orchestrator can route charges to. Static configuration owned by
// platform operators; the core never mutates these.
type PaymentProcessor struct {
	BaseModel
	Code                string          `json:"code" gorm:"uniqueIndex;not null;size:32"`
	Name                string          `json:"name" gorm:"not null"`
	SupportedCurrencies datatypes.JSON  `json:"supported_currencies"` // ["USD","EUR",...]
	MaxAmount           decimal.Decimal `json:"max_amount" gorm:"type:decimal(20,2)"`
	DisputeFee          decimal.Decimal `json:"dispute_fee" gorm:"type:decimal(20,2)"`
	RiskProfile         string          `json:"risk_profile" gorm:"size:16"` // conservative | standard | permissive
	IsActive            bool            `json:"is_active" gorm:"default:true"`

	// Shared secret for verifying this processor's webhook signatures.
	WebhookSecret string `json:"-" gorm:"type:varchar(255)"`
}

// TableName specifies the table name
func (PaymentProcessor) TableName() string {
	return "payment_processors"
}

// MerchantAccount is a settlement account/descriptor under a processor,
// used for a given region or currency.
type MerchantAccount struct {
	BaseModel
	Code          string `json:"code" gorm:"uniqueIndex;not null;size:32"`
	ProcessorCode string `json:"processor_code" gorm:"index;not null;size:32"`
	Descriptor    string `json:"descriptor" gorm:"size:64"`
	Currency      string `json:"currency" gorm:"size:3"`
	Region        string `json:"region" gorm:"size:16"`
	IsActive      bool   `json:"is_active" gorm:"default:true"`
}

// RouteTarget is an ordered (processor, merchant account) pair a routing
// rule resolves to. Stored as JSON inside RoutingRule.
type RouteTarget struct {
	ProcessorCode       string `json:"processor_code"`
	MerchantAccountCode string `json:"merchant_account_code"`
}
