package gormrepository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"callsync/internal/models"
	"callsync/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- recordings ---------------------------------------------------------------

func (s *Store) GetRecordingBySessionIDTx(ctx context.Context, tx *gorm.DB, sessionID string) (*models.Recording, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, nil
	}
	var item models.Recording
	err := s.conn(tx).WithContext(ctx).Where("session_id = ?", sessionID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpsertRecordingTx writes item by session_id and loads the stored primary key
// back into item.ID.
func (s *Store) UpsertRecordingTx(ctx context.Context, tx *gorm.DB, item *models.Recording) error {
	if item == nil {
		return nil
	}
	db := s.conn(tx).WithContext(ctx)
	err := db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"start_time",
			"end_time",
			"duration_seconds",
			"direction",
			"calling_number",
			"calling_name",
			"called_number",
			"called_name",
			"agent_id",
			"agent_external_id",
			"agent_name",
			"team_id",
			"queue_id",
			"queue_name",
			"skill",
			"wrap_up_code",
			"disposition",
			"media_format",
			"media_codec",
			"media_size_bytes",
			"playback_url",
			"search_text",
			"raw_payload",
			"synced_at",
			"updated_at",
		}),
	}).Create(item).Error
	if err != nil {
		return err
	}
	if item.ID != 0 {
		return nil
	}
	var stored models.Recording
	if err := db.Select("id").Where("session_id = ?", item.SessionID).First(&stored).Error; err != nil {
		return err
	}
	item.ID = stored.ID
	return nil
}

func (s *Store) ReplaceParticipantsTx(ctx context.Context, tx *gorm.DB, recordingID uint64, items []models.Participant) error {
	if recordingID == 0 {
		return nil
	}
	db := s.conn(tx).WithContext(ctx)
	if err := db.Where("recording_id = ?", recordingID).Delete(&models.Participant{}).Error; err != nil {
		return err
	}
	for i := range items {
		items[i].ID = 0
		items[i].RecordingID = recordingID
	}
	return createInBatches(db, items, 200)
}

func (s *Store) UpsertRecordingTagsTx(ctx context.Context, tx *gorm.DB, items []models.RecordingTag) error {
	if len(items) == 0 {
		return nil
	}
	return s.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "recording_id"}, {Name: "tag_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"tag_value"}),
	}).Create(&items).Error
}

func (s *Store) ListRecordings(ctx context.Context, params repository.ListRecordingsParams) ([]models.Recording, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := normalizeLimit(params.Limit, 200)
	var items []models.Recording
	err := s.db.WithContext(ctx).
		Model(&models.Recording{}).
		Where("id > ?", params.AfterID).
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListParticipantsByRecordingIDs(ctx context.Context, recordingIDs []uint64) ([]models.Participant, error) {
	if s == nil || s.db == nil || len(recordingIDs) == 0 {
		return nil, nil
	}
	var items []models.Participant
	if err := s.db.WithContext(ctx).Where("recording_id IN ?", recordingIDs).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListTagsByRecordingIDs(ctx context.Context, recordingIDs []uint64) ([]models.RecordingTag, error) {
	if s == nil || s.db == nil || len(recordingIDs) == 0 {
		return nil, nil
	}
	var items []models.RecordingTag
	if err := s.db.WithContext(ctx).Where("recording_id IN ?", recordingIDs).Order("tag_name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListActiveAgents(ctx context.Context) ([]models.Agent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Agent
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- sync state -----------------------------------------------------------------

func (s *Store) GetSyncState(ctx context.Context, syncType string) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var state models.SyncState
	err := s.db.WithContext(ctx).First(&state, "sync_type = ?", syncType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) EnsureSyncState(ctx context.Context, initial *models.SyncState) (*models.SyncState, error) {
	if s == nil || s.db == nil || initial == nil {
		return nil, nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sync_type"}},
		DoNothing: true,
	}).Create(initial).Error
	if err != nil {
		return nil, err
	}
	return s.GetSyncState(ctx, initial.SyncType)
}

func (s *Store) UpdateSyncStateTx(ctx context.Context, tx *gorm.DB, syncType string, update repository.SyncStateUpdate) error {
	cols := update.Columns()
	if len(cols) == 0 {
		return nil
	}
	res := s.conn(tx).WithContext(ctx).
		Model(&models.SyncState{}).
		Where("sync_type = ?", syncType).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) InsertSyncHistoryTx(ctx context.Context, tx *gorm.DB, item *models.SyncHistory) error {
	if item == nil {
		return nil
	}
	return s.conn(tx).WithContext(ctx).Create(item).Error
}

func (s *Store) ListSyncHistory(ctx context.Context, syncType string, limit int) ([]models.SyncHistory, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 20)
	var items []models.SyncHistory
	err := s.db.WithContext(ctx).
		Where("sync_type = ?", syncType).
		Order("started_at desc").
		Order("id desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- system settings --------------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	var items []models.SystemSetting
	if err := query.Limit(normalizeLimit(params.Limit, repository.MaxListLimit)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// conn prefers the transaction handle and falls back to the root connection
// for callers outside InTx.
func (s *Store) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func createInBatches[T any](db *gorm.DB, items []T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return db.CreateInBatches(items, batchSize).Error
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > repository.MaxListLimit {
		return repository.MaxListLimit
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var _ repository.Repository = (*Store)(nil)
