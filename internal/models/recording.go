package models

import (
	"time"

	"gorm.io/datatypes"
)

// Recording is the materialized call session. SessionID is the upstream
// natural key and never changes once stored.
type Recording struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	SessionID       string     `gorm:"type:text;not null;uniqueIndex;comment:upstream session id"`
	StartTime       *time.Time `gorm:"type:timestamptz;index;comment:call start"`
	EndTime         *time.Time `gorm:"type:timestamptz;index;comment:call end, may advance while maturing"`
	DurationSeconds int        `gorm:"not null;default:0"`

	Direction     string `gorm:"type:varchar(16);not null;default:unknown;index"`
	CallingNumber string `gorm:"type:varchar(64);index"`
	CallingName   string `gorm:"type:text"`
	CalledNumber  string `gorm:"type:varchar(64);index"`
	CalledName    string `gorm:"type:text"`

	AgentID         *uint64 `gorm:"index;comment:agents.id when resolved"`
	AgentExternalID string  `gorm:"type:text"`
	AgentName       string  `gorm:"type:text"`
	TeamID          *uint64 `gorm:"index"`

	QueueID     string `gorm:"type:text"`
	QueueName   string `gorm:"type:text;index"`
	Skill       string `gorm:"type:text"`
	WrapUpCode  string `gorm:"type:text"`
	Disposition string `gorm:"type:text"`

	MediaFormat    string `gorm:"type:varchar(32)"`
	MediaCodec     string `gorm:"type:varchar(32)"`
	MediaSizeBytes int64  `gorm:"not null;default:0"`
	PlaybackURL    string `gorm:"type:text"`

	SearchText string         `gorm:"type:text;comment:denormalized lowercase search text"`
	RawPayload datatypes.JSON `gorm:"type:jsonb;not null;comment:upstream payload for replay"`

	SyncedAt  time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`

	Participants []Participant  `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE"`
	Tags         []RecordingTag `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE"`
}

func (Recording) TableName() string {
	return "recordings"
}
