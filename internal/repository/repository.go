package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"callsync/internal/models"
)

// RecordingRepository is the primary store for materialized sessions.
// Tx variants run inside InTx and must not open their own transaction.
type RecordingRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	GetRecordingBySessionIDTx(ctx context.Context, tx *gorm.DB, sessionID string) (*models.Recording, error)
	UpsertRecordingTx(ctx context.Context, tx *gorm.DB, item *models.Recording) error
	ReplaceParticipantsTx(ctx context.Context, tx *gorm.DB, recordingID uint64, items []models.Participant) error
	UpsertRecordingTagsTx(ctx context.Context, tx *gorm.DB, items []models.RecordingTag) error
	ListRecordings(ctx context.Context, params ListRecordingsParams) ([]models.Recording, error)
	ListParticipantsByRecordingIDs(ctx context.Context, recordingIDs []uint64) ([]models.Participant, error)
	ListTagsByRecordingIDs(ctx context.Context, recordingIDs []uint64) ([]models.RecordingTag, error)
	ListActiveAgents(ctx context.Context) ([]models.Agent, error)
}

type SyncStateRepository interface {
	GetSyncState(ctx context.Context, syncType string) (*models.SyncState, error)
	// EnsureSyncState inserts the row for syncType when it does not exist yet
	// and returns the stored row either way.
	EnsureSyncState(ctx context.Context, initial *models.SyncState) (*models.SyncState, error)
	UpdateSyncStateTx(ctx context.Context, tx *gorm.DB, syncType string, update SyncStateUpdate) error
	InsertSyncHistoryTx(ctx context.Context, tx *gorm.DB, item *models.SyncHistory) error
	ListSyncHistory(ctx context.Context, syncType string, limit int) ([]models.SyncHistory, error)
}

type SettingsRepository interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

type Repository interface {
	RecordingRepository
	SyncStateRepository
	SettingsRepository
}

// MaxListLimit is the largest page any List call returns.
const MaxListLimit = 500

// ListRecordingsParams pages recordings by primary key, ascending.
type ListRecordingsParams struct {
	AfterID uint64
	Limit   int
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}

// SyncStateUpdate is a partial write of a SyncState row. Nil fields are left
// untouched; the Add* counters are applied as increments.
type SyncStateUpdate struct {
	Status         *string
	Checkpoint     []byte
	WatermarkTime  *time.Time
	ClearWatermark bool
	AddFetched     int64
	AddCreated     int64
	AddUpdated     int64
	AddErrors      int64
	LastBatchSize  *int
	LastDurationMs *int64
	SetError       bool
	ErrorMessage   *string
	LastSyncAt     *time.Time
	NextSyncAt     *time.Time
	ResetCounters  bool
}

// Apply mirrors the update onto an in-memory row.
func (u SyncStateUpdate) Apply(state *models.SyncState) {
	if state == nil {
		return
	}
	if u.Status != nil {
		state.Status = *u.Status
	}
	if u.Checkpoint != nil {
		state.Checkpoint = append([]byte(nil), u.Checkpoint...)
	}
	if u.WatermarkTime != nil {
		t := *u.WatermarkTime
		state.WatermarkTime = &t
	}
	if u.ClearWatermark {
		state.WatermarkTime = nil
	}
	if u.ResetCounters {
		state.TotalFetched, state.TotalCreated, state.TotalUpdated, state.TotalErrors = 0, 0, 0, 0
	}
	state.TotalFetched += u.AddFetched
	state.TotalCreated += u.AddCreated
	state.TotalUpdated += u.AddUpdated
	state.TotalErrors += u.AddErrors
	if u.LastBatchSize != nil {
		state.LastBatchSize = *u.LastBatchSize
	}
	if u.LastDurationMs != nil {
		state.LastDurationMs = *u.LastDurationMs
	}
	if u.SetError {
		state.ErrorMessage = u.ErrorMessage
	}
	if u.LastSyncAt != nil {
		t := *u.LastSyncAt
		state.LastSyncAt = &t
	}
	if u.NextSyncAt != nil {
		t := *u.NextSyncAt
		state.NextSyncAt = &t
	}
}

// Columns renders the update as a column map for gorm Updates.
func (u SyncStateUpdate) Columns() map[string]any {
	cols := map[string]any{}
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.Checkpoint != nil {
		cols["checkpoint"] = string(u.Checkpoint)
	}
	if u.WatermarkTime != nil {
		cols["watermark_time"] = *u.WatermarkTime
	}
	if u.ClearWatermark {
		cols["watermark_time"] = nil
	}
	counters := []struct {
		column string
		delta  int64
	}{
		{"total_fetched", u.AddFetched},
		{"total_created", u.AddCreated},
		{"total_updated", u.AddUpdated},
		{"total_errors", u.AddErrors},
	}
	for _, c := range counters {
		switch {
		case u.ResetCounters:
			cols[c.column] = c.delta
		case c.delta != 0:
			cols[c.column] = gorm.Expr(c.column+" + ?", c.delta)
		}
	}
	if u.LastBatchSize != nil {
		cols["last_batch_size"] = *u.LastBatchSize
	}
	if u.LastDurationMs != nil {
		cols["last_duration_ms"] = *u.LastDurationMs
	}
	if u.SetError {
		cols["error_message"] = u.ErrorMessage
	}
	if u.LastSyncAt != nil {
		cols["last_sync_at"] = *u.LastSyncAt
	}
	if u.NextSyncAt != nil {
		cols["next_sync_at"] = *u.NextSyncAt
	}
	return cols
}
