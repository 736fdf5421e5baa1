package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/classline/classline/internal/models"
)

// AutoMigrate applies schema migrations for every persistent model.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	return db.AutoMigrate(
		&models.User{},
		&models.Student{},
		&models.Message{},
		&models.Notification{},
		&models.CacheEntry{},
	)
}
