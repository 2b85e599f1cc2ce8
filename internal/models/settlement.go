package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SettlementStatus is the reconciliation state of an imported batch.
type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "pending"
	SettlementReconciled SettlementStatus = "reconciled"
	SettlementDisputed   SettlementStatus = "disputed"
)

// Settlement is an imported processor settlement batch, reconciled
// asynchronously against recorded transactions. (processor, batch_id) is
// unique: re-importing the same batch is a no-op once reconciled.
type Settlement struct {
	BaseModel
	SettlementID string `json:"settlement_id" gorm:"uniqueIndex;not null;size:64"`

	Processor string `json:"processor" gorm:"size:32;uniqueIndex:idx_processor_batch;not null"`
	BatchID   string `json:"batch_id" gorm:"size:100;uniqueIndex:idx_processor_batch;not null"`

	SettlementDate time.Time `json:"settlement_date"`

	GrossAmount      decimal.Decimal `json:"gross_amount" gorm:"type:decimal(20,2)"`
	FeeAmount        decimal.Decimal `json:"fee_amount" gorm:"type:decimal(20,2)"`
	ChargebackAmount decimal.Decimal `json:"chargeback_amount" gorm:"type:decimal(20,2)"`
	RefundAmount     decimal.Decimal `json:"refund_amount" gorm:"type:decimal(20,2)"`
	NetAmount        decimal.Decimal `json:"net_amount" gorm:"type:decimal(20,2)"`
	Currency         string          `json:"currency" gorm:"size:3"`

	TransactionCount int              `json:"transaction_count"`
	Status           SettlementStatus `json:"status" gorm:"size:16;index;not null"`

	// Raw batch lines as imported, kept so a disputed or pending batch
	// can be re-reconciled without re-importing the file.
	Lines datatypes.JSON `json:"lines"`

	// Transaction ids that failed to match, with the discrepancy kind.
	MismatchedTransactionIDs datatypes.JSON `json:"mismatched_transaction_ids"`

	ReconciledAt *time.Time `json:"reconciled_at"`
}

// TableName specifies the table name
func (Settlement) TableName() string {
	return "settlements"
}
