package db

import (
	"callsync/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Agent{},
		&models.Recording{},
		&models.Participant{},
		&models.RecordingTag{},
		&models.SyncState{},
		&models.SyncHistory{},
		&models.SystemSetting{},
	)
}
