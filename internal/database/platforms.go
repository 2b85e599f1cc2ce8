package database

import (
	"fmt"

	"payout-core/internal/models"

	"gorm.io/gorm"
)

// GetPlatformByID gets an active platform by its public id
func (s *Store) GetPlatformByID(platformID string) (*models.Platform, error) {
	var platform models.Platform
	err := s.db.Where("platform_id = ? AND is_active = ?", platformID, true).
		First(&platform).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("platform not found")
		}
		return nil, err
	}
	return &platform, nil
}

// ValidatePlatform validates a platform id and API key pair
func (s *Store) ValidatePlatform(platformID, apiKey string) bool {
	platform, err := s.GetPlatformByID(platformID)
	if err != nil {
		return false
	}
	return platform.APIKey == apiKey && platform.IsActive
}

// CreatePlatform creates a new platform
func (s *Store) CreatePlatform(platform *models.Platform) error {
	var existing models.Platform
	if err := s.db.Where("platform_id = ?", platform.PlatformID).
		First(&existing).Error; err == nil {
		return fmt.Errorf("platform with ID %s already exists", platform.PlatformID)
	}
	if err := s.db.Where("api_key = ?", platform.APIKey).
		First(&existing).Error; err == nil {
		return fmt.Errorf("platform with this API key already exists")
	}
	if err := s.db.Create(platform).Error; err != nil {
		return fmt.Errorf("failed to create platform: %w", err)
	}
	return nil
}

// ListPlatforms gets all active platforms
func (s *Store) ListPlatforms() ([]models.Platform, error) {
	var platforms []models.Platform
	err := s.db.Where("is_active = ?", true).Find(&platforms).Error
	return platforms, err
}

// GetProcessorByCode fetches an active payment processor
func (s *Store) GetProcessorByCode(code string) (*models.PaymentProcessor, error) {
	var processor models.PaymentProcessor
	err := s.db.Where("code = ? AND is_active = ?", code, true).
		First(&processor).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("processor %s not found", code)
		}
		return nil, err
	}
	return &processor, nil
}
