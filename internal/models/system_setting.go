package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SystemSetting is an operator-editable key/value row. Feature switches live
// under the "feature." prefix and hold a bare JSON bool.
type SystemSetting struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`
	Key         string         `gorm:"type:varchar(120);not null;uniqueIndex"`
	Value       datatypes.JSON `gorm:"type:jsonb;not null"`
	Description string         `gorm:"type:text"`
	CreatedAt   time.Time      `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}

func NewSwitchSetting(key string, enabled bool, at time.Time) *SystemSetting {
	raw, _ := json.Marshal(enabled)
	return &SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// SwitchValue decodes Value as a bool; ok is false for an empty or non-bool value.
func (s SystemSetting) SwitchValue() (enabled bool, ok bool) {
	if len(s.Value) == 0 {
		return false, false
	}
	if err := json.Unmarshal(s.Value, &enabled); err != nil {
		return false, false
	}
	return enabled, true
}
