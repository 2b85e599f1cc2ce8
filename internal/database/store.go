package database

import "gorm.io/gorm"

// Store wraps the gorm handle with the queries the domain engines need.
// Engines receive a Store (or a narrower interface backed by one) through
// their constructors; nothing in the core reaches for the package-level DB.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over the given database handle
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}
