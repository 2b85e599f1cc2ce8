package database

import (
	"fmt"
	"time"

	"payout-core/internal/models"

	"gorm.io/gorm"
)

// CreateRefund inserts a new refund request
func (s *Store) CreateRefund(refund *models.Refund) error {
	return s.db.Create(refund).Error
}

// SaveRefund persists refund mutations
func (s *Store) SaveRefund(refund *models.Refund) error {
	return s.db.Save(refund).Error
}

// GetRefundByID fetches a refund by its public id
func (s *Store) GetRefundByID(refundID string) (*models.Refund, error) {
	var refund models.Refund
	err := s.db.Where("refund_id = ?", refundID).First(&refund).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("refund %s not found", refundID)
		}
		return nil, err
	}
	return &refund, nil
}

// ListRefundsByTransaction returns all refunds linked to a transaction
func (s *Store) ListRefundsByTransaction(transactionID string) ([]models.Refund, error) {
	var refunds []models.Refund
	err := s.db.Where("transaction_id = ?", transactionID).
		Order("id ASC").Find(&refunds).Error
	return refunds, err
}

// ListFailedRefunds returns refunds stuck in failed, oldest first
func (s *Store) ListFailedRefunds() ([]models.Refund, error) {
	var refunds []models.Refund
	err := s.db.Where("status = ?", models.RefundFailed).
		Order("id ASC").Find(&refunds).Error
	return refunds, err
}

// CountRefundRequestsByPayer counts refund requests a payer made since
// the given time, across all their transactions. Backs the abuse check.
func (s *Store) CountRefundRequestsByPayer(payerID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.Refund{}).
		Joins("JOIN transactions ON transactions.transaction_id = refunds.transaction_id").
		Where("transactions.payer_id = ? AND refunds.created_at >= ?", payerID, since).
		Count(&count).Error
	return count, err
}
