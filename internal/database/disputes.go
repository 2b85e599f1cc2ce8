package database

import (
	"time"

	"payout-core/internal/models"

	"gorm.io/gorm"
)

// CreateDispute inserts a new dispute
func (s *Store) CreateDispute(dispute *models.Dispute) error {
	return s.db.Create(dispute).Error
}

// SaveDispute persists dispute mutations
func (s *Store) SaveDispute(dispute *models.Dispute) error {
	return s.db.Save(dispute).Error
}

// GetDisputeByID fetches a dispute by its public id
func (s *Store) GetDisputeByID(disputeID string) (*models.Dispute, error) {
	var dispute models.Dispute
	err := s.db.Where("dispute_id = ?", disputeID).First(&dispute).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &dispute, nil
}

// GetDisputeByExternalID fetches a dispute by the processor's identifier
func (s *Store) GetDisputeByExternalID(processor, externalDisputeID string) (*models.Dispute, error) {
	var dispute models.Dispute
	err := s.db.Where("processor = ? AND external_dispute_id = ?",
		processor, externalDisputeID).First(&dispute).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &dispute, nil
}

// ListDisputesByPlatform returns disputes for the dashboard API
func (s *Store) ListDisputesByPlatform(platformID string) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := s.db.Where("platform_id = ?", platformID).
		Order("id DESC").Find(&disputes).Error
	return disputes, err
}

// ListDisputesPastDeadline returns open-stage disputes whose response
// deadline has passed without a submitted response.
func (s *Store) ListDisputesPastDeadline(now time.Time) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := s.db.Where(
		"stage NOT IN ? AND response_submitted = ? AND response_deadline IS NOT NULL AND response_deadline < ?",
		[]models.DisputeStage{models.DisputeClosed}, false, now).
		Find(&disputes).Error
	return disputes, err
}
