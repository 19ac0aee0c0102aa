package models

import "time"

// Agent is the console's roster entry. The sync engine only reads it to link
// recordings to people.
type Agent struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	ExternalID string    `gorm:"type:text;index"`
	Name       string    `gorm:"type:text;not null"`
	Email      string    `gorm:"type:text"`
	TeamID     *uint64   `gorm:"index"`
	Active     bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Agent) TableName() string {
	return "agents"
}
