package service

import (
	"time"

	"callsync/internal/repository"
)

const (
	SyncModeIncremental = "incremental"
	SyncModeBackfill    = "backfill"
)

type SyncStats struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
	Pages   int `json:"pages"`
	Days    int `json:"days"`
}

func (s SyncStats) sub(o SyncStats) SyncStats {
	return SyncStats{
		Fetched: s.Fetched - o.Fetched,
		Created: s.Created - o.Created,
		Updated: s.Updated - o.Updated,
		Skipped: s.Skipped - o.Skipped,
		Errors:  s.Errors - o.Errors,
		Pages:   s.Pages - o.Pages,
		Days:    s.Days - o.Days,
	}
}

// update maps the stats onto the running totals kept in SyncState.
func (s SyncStats) update() repository.SyncStateUpdate {
	return repository.SyncStateUpdate{
		AddFetched: int64(s.Fetched),
		AddCreated: int64(s.Created),
		AddUpdated: int64(s.Updated),
		AddErrors:  int64(s.Errors),
	}
}

// SyncResult is what every run entry point returns; runs never surface
// errors any other way.
type SyncResult struct {
	Success          bool       `json:"success"`
	SyncType         string     `json:"sync_type"`
	Mode             string     `json:"mode,omitempty"`
	Status           string     `json:"status,omitempty"`
	CorrelationID    string     `json:"correlation_id,omitempty"`
	TriggeredBy      string     `json:"triggered_by,omitempty"`
	Stats            SyncStats  `json:"stats"`
	Error            string     `json:"error,omitempty"`
	Watermark        *time.Time `json:"watermark,omitempty"`
	BackfillComplete bool       `json:"backfill_complete"`
	StartedAt        time.Time  `json:"started_at"`
	DurationMs       int64      `json:"duration_ms"`
}
