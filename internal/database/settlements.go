package database

import (
	"time"

	"payout-core/internal/models"

	"gorm.io/gorm"
)

// CreateSettlement inserts a new settlement batch
func (s *Store) CreateSettlement(settlement *models.Settlement) error {
	return s.db.Create(settlement).Error
}

// SaveSettlement persists reconciliation results
func (s *Store) SaveSettlement(settlement *models.Settlement) error {
	return s.db.Save(settlement).Error
}

// GetSettlementByBatch fetches a settlement by (processor, batch id)
func (s *Store) GetSettlementByBatch(processor, batchID string) (*models.Settlement, error) {
	var settlement models.Settlement
	err := s.db.Where("processor = ? AND batch_id = ?", processor, batchID).
		First(&settlement).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &settlement, nil
}

// ListPendingSettlements returns batches awaiting reconciliation
func (s *Store) ListPendingSettlements() ([]models.Settlement, error) {
	var settlements []models.Settlement
	err := s.db.Where("status = ?", models.SettlementPending).
		Find(&settlements).Error
	return settlements, err
}

// ListUnsettledCapturedBefore returns captured transactions on a
// processor that should have appeared in a settlement batch by the
// given cutoff.
func (s *Store) ListUnsettledCapturedBefore(processor string, cutoff time.Time) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.db.Where(
		"processor_code = ? AND status = ? AND captured_at IS NOT NULL AND captured_at < ?",
		processor, models.StatusCaptured, cutoff).
		Find(&txns).Error
	return txns, err
}
