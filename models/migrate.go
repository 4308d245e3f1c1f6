package models

import "gorm.io/gorm"

// Migrate creates or updates the tables for every model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Poll{},
		&Question{},
		&Option{},
		&Response{},
	)
}
