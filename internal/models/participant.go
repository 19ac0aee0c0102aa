package models

import "time"

// Participant rows are rewritten wholesale on every re-sync of the parent.
type Participant struct {
	ID              uint64     `gorm:"primaryKey;autoIncrement"`
	RecordingID     uint64     `gorm:"not null;index"`
	ParticipantType string     `gorm:"type:varchar(32);not null;default:unknown"`
	ParticipantID   string     `gorm:"type:text"`
	Name            string     `gorm:"type:text"`
	Phone           string     `gorm:"type:varchar(64)"`
	Device          string     `gorm:"type:text"`
	JoinedAt        *time.Time `gorm:"type:timestamptz"`
	LeftAt          *time.Time `gorm:"type:timestamptz"`
}

func (Participant) TableName() string {
	return "recording_participants"
}
