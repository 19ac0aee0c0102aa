package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"callsync/internal/models"
	"callsync/internal/repository"
)

const (
	FeaturePrefix        = "feature."
	FeatureRecordingSync = "feature.recording_sync"
	FeatureSearchIndex   = "feature.search_index"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureRecordingSync: true,
		FeatureSearchIndex:   true,
	}
}

// FeatureSwitch is one feature.* setting decoded to a bool.
type FeatureSwitch struct {
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SystemSettingsService struct {
	Repo repository.SettingsRepository
}

// EnsureDefaultSwitches writes the default of every switch that is not stored
// yet. Stored values are left alone so operator choices survive restarts.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	keys := make([]string, 0, len(DefaultFeatureSwitches()))
	for key := range DefaultFeatureSwitches() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.Repo.UpsertSystemSetting(ctx, models.NewSwitchSetting(key, DefaultFeatureSwitches()[key], now)); err != nil {
			return err
		}
	}
	return nil
}

// IsEnabled reads a switch, returning fallback when it is missing or does not
// hold a bool.
func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil {
		return fallback
	}
	if enabled, ok := item.SwitchValue(); ok {
		return enabled
	}
	return fallback
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return s.Repo.UpsertSystemSetting(ctx, models.NewSwitchSetting(key, enabled, time.Now().UTC()))
}

func (s *SystemSettingsService) ListSwitches(ctx context.Context) ([]FeatureSwitch, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	prefix := FeaturePrefix
	items, err := s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{
		Limit:   200,
		Prefix:  &prefix,
		OrderBy: "key",
		Asc:     boolPtr(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]FeatureSwitch, 0, len(items))
	for _, it := range items {
		enabled, _ := it.SwitchValue()
		out = append(out, FeatureSwitch{
			Name:        strings.TrimPrefix(it.Key, FeaturePrefix),
			Key:         it.Key,
			Enabled:     enabled,
			Description: it.Description,
			UpdatedAt:   it.UpdatedAt,
		})
	}
	return out, nil
}

func boolPtr(v bool) *bool {
	return &v
}
