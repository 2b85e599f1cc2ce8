package database

import (
	"fmt"

	"payout-core/internal/models"

	"gorm.io/gorm"
)

// CreateTrustScoreRecord persists one scoring invocation. Records are
// immutable; re-scoring creates a new row.
func (s *Store) CreateTrustScoreRecord(record *models.TrustScoreRecord) error {
	return s.db.Create(record).Error
}

// GetLatestTrustScore returns the most recent score for an entity
func (s *Store) GetLatestTrustScore(entityType models.EntityType, entityID string) (*models.TrustScoreRecord, error) {
	var record models.TrustScoreRecord
	err := s.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id DESC").First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("no trust score recorded for %s %s", entityType, entityID)
		}
		return nil, err
	}
	return &record, nil
}
