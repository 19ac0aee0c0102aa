package models

type RecordingTag struct {
	RecordingID uint64 `gorm:"primaryKey"`
	TagName     string `gorm:"primaryKey;type:varchar(120)"`
	TagValue    string `gorm:"type:text"`
}

func (RecordingTag) TableName() string {
	return "recording_tags"
}
