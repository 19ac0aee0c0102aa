package models

import "time"

// SyncHistory is append-only; pruning happens outside the service.
type SyncHistory struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement"`
	SyncType      string     `gorm:"type:varchar(64);not null;index:idx_sync_history_type_started,priority:1"`
	Mode          string     `gorm:"type:varchar(16);not null"`
	Status        string     `gorm:"type:varchar(16);not null"`
	TriggeredBy   string     `gorm:"type:varchar(64)"`
	CorrelationID string     `gorm:"type:varchar(64);index"`
	Fetched       int        `gorm:"not null;default:0"`
	Created       int        `gorm:"not null;default:0"`
	Updated       int        `gorm:"not null;default:0"`
	Skipped       int        `gorm:"not null;default:0"`
	Errors        int        `gorm:"not null;default:0"`
	Pages         int        `gorm:"not null;default:0"`
	Days          int        `gorm:"not null;default:0"`
	DurationMs    int64      `gorm:"not null;default:0"`
	ErrorMessage  *string    `gorm:"type:text"`
	StartedAt     time.Time  `gorm:"type:timestamptz;not null;index:idx_sync_history_type_started,priority:2"`
	CompletedAt   *time.Time `gorm:"type:timestamptz"`
	CreatedAt     time.Time  `gorm:"type:timestamptz;autoCreateTime"`
}

func (SyncHistory) TableName() string {
	return "sync_history"
}
