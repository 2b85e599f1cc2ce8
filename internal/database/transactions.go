package database

import (
	"fmt"

	"payout-core/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateTransaction inserts a new transaction
func (s *Store) CreateTransaction(txn *models.Transaction) error {
	return s.db.Create(txn).Error
}

// SaveTransaction persists mutations made by the orchestrator
func (s *Store) SaveTransaction(txn *models.Transaction) error {
	return s.db.Save(txn).Error
}

// GetTransactionByID fetches a transaction by its public id
func (s *Store) GetTransactionByID(transactionID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.Where("transaction_id = ?", transactionID).First(&txn).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("transaction %s not found", transactionID)
		}
		return nil, err
	}
	return &txn, nil
}

// AppendEvent appends a transaction event. Returns false when an event
// with the same event id already exists; the append-only log is what
// makes at-least-once webhook delivery safe.
func (s *Store) AppendEvent(event *models.TransactionEvent) (bool, error) {
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetEventByEventID fetches an event by its externally supplied id
func (s *Store) GetEventByEventID(eventID string) (*models.TransactionEvent, error) {
	var event models.TransactionEvent
	err := s.db.Where("event_id = ?", eventID).First(&event).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// ListEvents returns the append-only event log for a transaction in order
func (s *Store) ListEvents(transactionID string) ([]models.TransactionEvent, error) {
	var events []models.TransactionEvent
	err := s.db.Where("transaction_id = ?", transactionID).
		Order("id ASC").Find(&events).Error
	return events, err
}

// SumProcessedRefunds returns the total refunded amount for a transaction,
// counting approved and processed refunds so an in-flight approval already
// reserves its share of the refundable balance.
func (s *Store) SumProcessedRefunds(transactionID string) (decimal.Decimal, error) {
	var refunds []models.Refund
	err := s.db.Where("transaction_id = ? AND status IN ?",
		transactionID,
		[]models.RefundStatus{models.RefundApproved, models.RefundProcessed}).
		Find(&refunds).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range refunds {
		total = total.Add(r.Amount)
	}
	return total, nil
}
