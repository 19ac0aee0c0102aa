package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SyncStatusIdle       = "IDLE"
	SyncStatusInProgress = "IN_PROGRESS"
	SyncStatusSuccess    = "SUCCESS"
	SyncStatusPartial    = "PARTIAL"
	SyncStatusFailed     = "FAILED"
)

// SyncState is the single durable row per feed. It is created on first use
// and only ever updated afterwards.
type SyncState struct {
	SyncType       string         `gorm:"primaryKey;type:varchar(64);comment:feed identifier"`
	Status         string         `gorm:"type:varchar(16);not null;default:IDLE"`
	Checkpoint     datatypes.JSON `gorm:"type:jsonb;comment:resume position"`
	WatermarkTime  *time.Time     `gorm:"type:timestamptz;comment:derived from checkpoint"`
	TotalFetched   int64          `gorm:"not null;default:0"`
	TotalCreated   int64          `gorm:"not null;default:0"`
	TotalUpdated   int64          `gorm:"not null;default:0"`
	TotalErrors    int64          `gorm:"not null;default:0"`
	LastBatchSize  int            `gorm:"not null;default:0"`
	LastDurationMs int64          `gorm:"not null;default:0"`
	ErrorMessage   *string        `gorm:"type:text"`
	LastSyncAt     *time.Time     `gorm:"type:timestamptz"`
	NextSyncAt     *time.Time     `gorm:"type:timestamptz"`
	UpdatedAt      time.Time      `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SyncState) TableName() string {
	return "sync_state"
}
